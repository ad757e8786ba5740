package ldap

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/adaliases/internal/logging"
)

const (
	// UserFilter selects every user object that has an account name.
	UserFilter = "(&(objectClass=user)(sAMAccountName=*))"

	AttrEmployeeID     = "employeeID"
	AttrSAMAccountName = "sAMAccountName"
)

// UserAttributes are the only attributes requested from the directory.
var UserAttributes = []string{AttrEmployeeID, AttrSAMAccountName}

// UserRecord is one directory user with a non-empty employee identifier.
type UserRecord struct {
	EmployeeID  string
	AccountName string
}

// UserReader handles read-only Active Directory user operations.
type UserReader struct {
	client  Client
	baseDN  string
	timeout time.Duration
	log     logging.Logger

	dropped int
}

// NewUserReader creates a new user reader instance.
func NewUserReader(client Client, baseDN string, logger logging.Logger) *UserReader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &UserReader{
		client:  client,
		baseDN:  baseDN,
		timeout: 30 * time.Second,
		log:     logger,
	}
}

// SetTimeout sets the server-side search time limit.
func (ur *UserReader) SetTimeout(timeout time.Duration) {
	ur.timeout = timeout
}

// CheckBind verifies the directory accepts the configured credentials.
func (ur *UserReader) CheckBind(ctx context.Context) error {
	return ur.client.CheckBind(ctx)
}

// Dropped returns the number of entries the last FetchUsers discarded.
func (ur *UserReader) Dropped() int {
	return ur.dropped
}

// FetchUsers returns every qualifying user in directory result order.
// Entries without an employeeID are dropped. An empty directory yields an
// empty slice and a nil error.
func (ur *UserReader) FetchUsers(ctx context.Context) ([]UserRecord, error) {
	searchReq := &SearchRequest{
		BaseDN:     ur.baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     UserFilter,
		Attributes: UserAttributes,
		TimeLimit:  ur.timeout,
	}

	ur.dropped = 0
	result, err := ur.client.SearchWithPaging(ctx, searchReq)
	if err != nil {
		return nil, WrapError("fetch_users", err)
	}

	users := make([]UserRecord, 0, len(result.Entries))
	dropped := 0
	for _, entry := range result.Entries {
		user, ok, err := entryToUserRecord(entry)
		if err != nil {
			dropped++
			ur.log.Warn("Skipping undecodable directory entry", map[string]any{
				"dn":    entry.DN,
				"error": err.Error(),
			})
			continue
		}
		if !ok {
			dropped++
			ur.log.Debug("Skipping directory entry without employeeID", map[string]any{
				"dn": entry.DN,
			})
			continue
		}
		users = append(users, user)
	}
	ur.dropped = dropped

	fields := map[string]any{
		"entries_returned": len(result.Entries),
		"users":            len(users),
		"entries_dropped":  dropped,
		"base_dn":          ur.baseDN,
	}

	if len(users) == 0 {
		ur.log.Warn("no qualifying directory users", fields)
		return users, nil
	}

	ur.log.Info("Fetched directory users", fields)
	return users, nil
}

// entryToUserRecord decodes the raw attribute values of entry. ok is false
// when the entry has no employeeID.
func entryToUserRecord(entry *ldap.Entry) (UserRecord, bool, error) {
	if entry == nil {
		return UserRecord{}, false, fmt.Errorf("LDAP entry cannot be nil")
	}

	employeeID, err := decodeAttribute(entry, AttrEmployeeID)
	if err != nil {
		return UserRecord{}, false, err
	}
	if employeeID == "" {
		return UserRecord{}, false, nil
	}

	accountName, err := decodeAttribute(entry, AttrSAMAccountName)
	if err != nil {
		return UserRecord{}, false, err
	}

	return UserRecord{EmployeeID: employeeID, AccountName: accountName}, true, nil
}

// decodeAttribute returns the first value of name as UTF-8 text, or "" when
// the attribute is absent.
func decodeAttribute(entry *ldap.Entry, name string) (string, error) {
	raw := entry.GetEqualFoldRawAttributeValue(name)
	if len(raw) == 0 {
		return entry.GetEqualFoldAttributeValue(name), nil
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("attribute %s is not valid UTF-8", name)
	}
	return string(raw), nil
}
