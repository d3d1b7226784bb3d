package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

const (
	// RoleTransferReader may resolve schemas, preview rows, build joins,
	// infer import columns and run exports.
	RoleTransferReader = "transfer_reader"
	// RoleTransferWriter may run imports.
	RoleTransferWriter = "transfer_writer"
)

var knownRoles = []string{RoleTransferReader, RoleTransferWriter}

type Identity struct {
	TenantID string
	Roles    []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

func (i Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator checks keys against a fixed table loaded from
// DUCKXFER_AUTH_STATIC_KEYS.
type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses comma separated key:tenant:roles entries,
// roles being joined by "|", for example
// "k1:acme:transfer_reader|transfer_writer,k2:acme:transfer_reader".
func NewStaticAPIKeyValidator(table string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	for _, entry := range strings.Split(table, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, identity, err := parseKeyEntry(entry)
		if err != nil {
			return nil, err
		}
		if _, dup := validator.keys[key]; dup {
			return nil, fmt.Errorf("static key entry %q: key listed twice", entry)
		}
		validator.keys[key] = identity
	}
	return validator, nil
}

func parseKeyEntry(entry string) (string, Identity, error) {
	fields := strings.Split(entry, ":")
	if len(fields) != 3 {
		return "", Identity{}, fmt.Errorf("static key entry %q: want key:tenant:role|role", entry)
	}
	key := strings.TrimSpace(fields[0])
	tenant := strings.TrimSpace(fields[1])
	if key == "" || tenant == "" {
		return "", Identity{}, fmt.Errorf("static key entry %q: key and tenant must not be empty", entry)
	}

	var roles []string
	for _, role := range strings.Split(fields[2], "|") {
		role = strings.TrimSpace(role)
		switch {
		case role == "":
			continue
		case !slices.Contains(knownRoles, role):
			return "", Identity{}, fmt.Errorf("static key entry %q: unknown role %q", entry, role)
		case !slices.Contains(roles, role):
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", Identity{}, fmt.Errorf("static key entry %q: at least one role is required", entry)
	}
	slices.Sort(roles)
	return key, Identity{TenantID: tenant, Roles: roles}, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}
