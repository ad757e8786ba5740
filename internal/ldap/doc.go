/*
Package ldap reads user records from Active Directory.

# Connections

Every operation opens one connection, optionally secures it (ldaps:// or
StartTLS), authenticates and releases it on return. There is no pooling and
no retry. Simple bind is the default; GSSAPI/Kerberos is used when a realm is
configured; without a krb5.conf one is generated that locates KDCs through
DNS. Dial and every request are bounded by the configured timeout, and
cancelling the caller's context closes the connection.

Certificate verification is controlled by VerifyServerCertificate. When it is
off a warning is logged for every connection that negotiates TLS.

# Searches

SearchWithPaging reads all pages of a search with the paged results control.
Referrals returned by the server are collected and logged but never followed.

# Users

UserReader.FetchUsers runs the user search and decodes employeeID and
sAMAccountName from their raw values. Entries without an employeeID are
dropped.

# Error Handling

Failures are returned as *LDAPError with a category (connection,
authentication, permission, ...), the LDAP result code and the server
diagnostic. IsAuthenticationError and friends classify wrapped errors.
*/
package ldap
