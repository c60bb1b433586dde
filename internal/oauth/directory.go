package oauth

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// ErrBadCredentials is returned for an unknown user or wrong password.
var ErrBadCredentials = errors.New("invalid username or password")

// User is an account allowed to authorize clients.
type User struct {
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"passwordHash"`
	Permissions  []string `yaml:"permissions"`
}

// Directory authenticates users against bcrypt password hashes.
type Directory struct {
	users map[string]User
}

// NewDirectory builds a directory from users. Later duplicates win.
func NewDirectory(users ...User) *Directory {
	d := &Directory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.Username] = u
	}
	return d
}

// LoadDirectory reads a YAML users file:
//
//	users:
//	  - username: alice
//	    passwordHash: $2a$10$...
//	    permissions: [image_generation]
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var file struct {
		Users []User `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	for i, u := range file.Users {
		if u.Username == "" {
			return nil, fmt.Errorf("users[%d]: username is required", i)
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("user %s: passwordHash is not a bcrypt hash", u.Username)
		}
	}
	return NewDirectory(file.Users...), nil
}

// Len returns the number of users.
func (d *Directory) Len() int { return len(d.users) }

// Authenticate returns the user when password matches.
func (d *Directory) Authenticate(username, password string) (User, error) {
	u, ok := d.users[username]
	if !ok {
		return User{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrBadCredentials
	}
	return u, nil
}

// HashPassword returns a bcrypt hash suitable for a users file.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
