package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/directory"
)

// seedFile populates the memory directory for local development
type seedFile struct {
	Users []struct {
		ID          string   `yaml:"id"`
		Email       string   `yaml:"email"`
		Name        string   `yaml:"name"`
		Role        string   `yaml:"role"`
		Department  string   `yaml:"department"`
		Permissions []string `yaml:"permissions"`
		Active      *bool    `yaml:"active"`
	} `yaml:"users"`
	Resources []struct {
		ID         string `yaml:"id"`
		AssignedTo string `yaml:"assigned_to"`
		Department string `yaml:"department"`
		Status     string `yaml:"status"`
	} `yaml:"resources"`
}

// loadSeed reads path into dir and returns the number of users and resources
func loadSeed(path string, dir *directory.MemoryDirectory) (int, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, 0, fmt.Errorf("failed to parse seed file: %w", err)
	}

	for i, u := range seed.Users {
		if u.ID == "" {
			return 0, 0, fmt.Errorf("seed user %d: id is required", i)
		}
		role := auth.Role(u.Role)
		if !role.Valid() {
			return 0, 0, fmt.Errorf("seed user %s: invalid role %q", u.ID, u.Role)
		}
		rec := auth.UserRecord{
			ID:          u.ID,
			Email:       u.Email,
			Name:        u.Name,
			Role:        role,
			Permissions: u.Permissions,
			Department:  optional(u.Department),
			Active:      u.Active == nil || *u.Active,
		}
		dir.PutUser(rec)
	}

	for i, r := range seed.Resources {
		if r.ID == "" {
			return 0, 0, fmt.Errorf("seed resource %d: id is required", i)
		}
		dir.PutResource(auth.Resource{
			ID:                  r.ID,
			AssignedPrincipalID: optional(r.AssignedTo),
			Department:          optional(r.Department),
			Status:              r.Status,
		})
	}
	return len(seed.Users), len(seed.Resources), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
