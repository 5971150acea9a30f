package auth

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// Official is one entry of the officials roster.
type Official struct {
	ID           string      `yaml:"id"`
	Email        string      `yaml:"email"`
	Name         string      `yaml:"name"`
	Department   string      `yaml:"department"`
	Role         models.Role `yaml:"role"`
	PasswordHash string      `yaml:"password_hash"`
}

// Roster indexes officials by lower-cased email.
type Roster struct {
	byEmail map[string]*Official
}

type rosterFile struct {
	Officials []*Official `yaml:"officials"`
}

// LoadRoster reads the officials roster from a YAML file.
//
//	officials:
//	  - id: off-001
//	    email: a.sharma@police.gov
//	    name: A. Sharma
//	    department: Cyber Cell
//	    role: supervisor
//	    password_hash: $2a$10$...
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	return ParseRoster(data)
}

// ParseRoster parses roster YAML. Every official needs an id, an email, a
// known role and a bcrypt hash; emails must be unique.
func ParseRoster(data []byte) (*Roster, error) {
	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}

	r := &Roster{byEmail: make(map[string]*Official, len(file.Officials))}
	for i, o := range file.Officials {
		if o == nil {
			continue
		}
		o.Email = normalizeEmail(o.Email)
		switch {
		case o.ID == "":
			return nil, fmt.Errorf("roster entry %d: missing id", i)
		case o.Email == "":
			return nil, fmt.Errorf("roster entry %d: missing email", i)
		case !o.Role.IsValid():
			return nil, fmt.Errorf("roster entry %d (%s): missing role", i, o.Email)
		case o.PasswordHash == "":
			return nil, fmt.Errorf("roster entry %d (%s): missing password_hash", i, o.Email)
		}
		if _, err := bcrypt.Cost([]byte(o.PasswordHash)); err != nil {
			return nil, fmt.Errorf("roster entry %d (%s): invalid password_hash: %w", i, o.Email, err)
		}
		if _, dup := r.byEmail[o.Email]; dup {
			return nil, fmt.Errorf("roster entry %d: duplicate email %s", i, o.Email)
		}
		r.byEmail[o.Email] = o
	}
	return r, nil
}

// NewRoster builds a roster from officials already in memory.
func NewRoster(officials ...*Official) *Roster {
	r := &Roster{byEmail: make(map[string]*Official, len(officials))}
	for _, o := range officials {
		r.byEmail[normalizeEmail(o.Email)] = o
	}
	return r
}

// Lookup finds an official by email, case-insensitively.
func (r *Roster) Lookup(email string) (*Official, bool) {
	if r == nil {
		return nil, false
	}
	o, ok := r.byEmail[normalizeEmail(email)]
	return o, ok
}

// Len returns the number of officials.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byEmail)
}

// PasswordChecker compares a stored hash with a presented password.
type PasswordChecker interface {
	Compare(hash, password string) error
}

// BcryptChecker is the production PasswordChecker.
type BcryptChecker struct{}

// Compare returns nil when password matches the bcrypt hash.
func (BcryptChecker) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// HashPassword returns a bcrypt hash suitable for the roster.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// DomainAllowList holds the email domains permitted to log in.
type DomainAllowList struct {
	domains map[string]struct{}
}

// NewDomainAllowList creates an allow-list from domain names.
func NewDomainAllowList(domains []string) *DomainAllowList {
	l := &DomainAllowList{domains: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "@")
		if d != "" {
			l.domains[d] = struct{}{}
		}
	}
	return l
}

// Allows reports whether email's domain is exactly one of the allowed domains.
// Subdomains are not implied.
func (l *DomainAllowList) Allows(email string) bool {
	domain := EmailDomain(email)
	if domain == "" {
		return false
	}
	_, ok := l.domains[domain]
	return ok
}

// EmailDomain returns the lower-cased part after the last "@", or "" if
// email is not of the form local@domain.
func EmailDomain(email string) string {
	email = normalizeEmail(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
