package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// Account is a portal client able to sign in.
type Account struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Email        string   `yaml:"email"`
	PasswordHash string   `yaml:"password_hash"`
	Roles        []string `yaml:"roles"`
	Locale       string   `yaml:"locale"`
}

func (a Account) user() *User {
	return &User{
		ID:              a.ID,
		Name:            a.Name,
		Email:           a.Email,
		Roles:           a.Roles,
		PreferredLocale: a.Locale,
	}
}

type accountsFile struct {
	Accounts []Account `yaml:"accounts"`
}

// Directory authenticates clients against bcrypt password hashes.
type Directory struct {
	byEmail map[string]Account
	// compared against when the email is unknown so both paths cost a bcrypt check
	decoy []byte
}

func NewDirectory(accounts ...Account) (*Directory, error) {
	decoy, err := bcrypt.GenerateFromPassword([]byte("portal-decoy"), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	d := &Directory{byEmail: make(map[string]Account, len(accounts)), decoy: decoy}
	for _, a := range accounts {
		email := normalizeEmail(a.Email)
		if email == "" || a.ID == "" {
			return nil, fmt.Errorf("account %q needs an id and an email", a.Name)
		}
		if _, dup := d.byEmail[email]; dup {
			return nil, fmt.Errorf("duplicate account email %s", email)
		}
		d.byEmail[email] = a
	}
	return d, nil
}

// LoadDirectory reads accounts from a yaml file holding an `accounts` list.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var file accountsFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	return NewDirectory(file.Accounts...)
}

// Authenticate returns the user owning email when password matches.
func (d *Directory) Authenticate(_ context.Context, email, password string) (*User, error) {
	account, ok := d.byEmail[normalizeEmail(email)]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(d.decoy, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return account.user(), nil
}

func (d *Directory) Len() int {
	return len(d.byEmail)
}

// HashPassword produces the value stored in an account's password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
