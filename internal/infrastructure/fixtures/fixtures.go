// Package fixtures loads classroom seed data (groups, students, shop
// products, activities) from YAML or JSON files into an entity store.
package fixtures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/internal/domain/shared"
)

// Fixture is one seed file.
type Fixture struct {
	Groups     []Group    `yaml:"groups" json:"groups"`
	Students   []Student  `yaml:"students" json:"students"`
	Products   []Product  `yaml:"products" json:"products"`
	Activities []Activity `yaml:"activities" json:"activities"`
}

// Group seeds a class. Inactive groups are not allowed in fixtures.
type Group struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Student seeds a student; Group must name a group of the same file.
type Student struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Group   string `yaml:"group" json:"group"`
	Balance int64  `yaml:"balance" json:"balance"`
}

// Product seeds a shop item.
type Product struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Price int64  `yaml:"price" json:"price"`
	Stock int64  `yaml:"stock" json:"stock"`
}

// Activity seeds a rewardable task.
type Activity struct {
	ID       string `yaml:"id" json:"id"`
	Group    string `yaml:"group" json:"group"`
	Name     string `yaml:"name" json:"name"`
	Reward   int64  `yaml:"reward" json:"reward"`
	Inactive bool   `yaml:"inactive" json:"inactive"`
}

// Load parses a fixture file. The format is detected by extension.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %s: %w", path, err)
	}

	f, err := Parse(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes data in the given format (".yaml", ".yml" or ".json") and validates it.
func Parse(data []byte, ext string) (*Fixture, error) {
	var f Fixture
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported fixture format %q (expected .json, .yaml, or .yml)", ext)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks ids and cross references.
func (f *Fixture) Validate() error {
	var errs []error

	groups := make(map[string]bool, len(f.Groups))
	for i, g := range f.Groups {
		if g.ID == "" {
			errs = append(errs, fmt.Errorf("groups[%d]: id is required", i))
			continue
		}
		if groups[g.ID] {
			errs = append(errs, fmt.Errorf("groups[%d]: duplicate id %q", i, g.ID))
		}
		groups[g.ID] = true
	}

	seen := make(map[string]bool, len(f.Students))
	for i, s := range f.Students {
		switch {
		case s.ID == "":
			errs = append(errs, fmt.Errorf("students[%d]: id is required", i))
		case seen[s.ID]:
			errs = append(errs, fmt.Errorf("students[%d]: duplicate id %q", i, s.ID))
		case s.Group != "" && !groups[s.Group]:
			errs = append(errs, fmt.Errorf("students[%d]: unknown group %q", i, s.Group))
		case s.Balance < 0:
			errs = append(errs, fmt.Errorf("students[%d]: balance cannot be negative", i))
		}
		seen[s.ID] = true
	}

	for i, p := range f.Products {
		if p.ID == "" || p.Price < 0 || p.Stock < 0 {
			errs = append(errs, fmt.Errorf("products[%d]: id is required and price/stock cannot be negative", i))
		}
	}

	for i, a := range f.Activities {
		if a.ID == "" || a.Reward < 0 {
			errs = append(errs, fmt.Errorf("activities[%d]: id is required and reward cannot be negative", i))
		}
	}

	return errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLY
// ══════════════════════════════════════════════════════════════════════════════

// Creator is the part of an entity store that seeding needs.
type Creator interface {
	CreateStudent(ctx context.Context, s *ledger.Student) error
	CreateProduct(ctx context.Context, p *ledger.Product) error
	CreateGroup(ctx context.Context, g *ledger.Group) error
	CreateActivity(ctx context.Context, a *ledger.Activity) error
}

// Result counts what Apply created and what already existed.
type Result struct {
	Created int
	Skipped int
}

// Apply creates every record of f. Records that already exist are skipped,
// so applying the same file twice is harmless.
func Apply(ctx context.Context, store Creator, f *Fixture) (Result, error) {
	var res Result

	track := func(what, id string, err error) error {
		switch {
		case err == nil:
			res.Created++
		case shared.IsAlreadyExists(err):
			res.Skipped++
		default:
			return fmt.Errorf("seed %s %q: %w", what, id, err)
		}
		return nil
	}

	rosters := make(map[string][]string, len(f.Groups))
	for _, s := range f.Students {
		if s.Group != "" {
			rosters[s.Group] = append(rosters[s.Group], s.ID)
		}
	}

	for _, g := range f.Groups {
		err := store.CreateGroup(ctx, &ledger.Group{ID: g.ID, Name: g.Name, Roster: rosters[g.ID], Active: true})
		if err := track("group", g.ID, err); err != nil {
			return res, err
		}
	}
	for _, s := range f.Students {
		err := store.CreateStudent(ctx, &ledger.Student{ID: s.ID, DisplayName: s.Name, GroupID: s.Group, Balance: s.Balance})
		if err := track("student", s.ID, err); err != nil {
			return res, err
		}
	}
	for _, p := range f.Products {
		err := store.CreateProduct(ctx, &ledger.Product{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock})
		if err := track("product", p.ID, err); err != nil {
			return res, err
		}
	}
	for _, a := range f.Activities {
		status := ledger.ActivityActive
		if a.Inactive {
			status = ledger.ActivityInactive
		}
		err := store.CreateActivity(ctx, &ledger.Activity{ID: a.ID, GroupID: a.Group, Name: a.Name, Reward: a.Reward, Status: status})
		if err := track("activity", a.ID, err); err != nil {
			return res, err
		}
	}

	return res, nil
}
