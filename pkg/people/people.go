// Package people is the demo record set the service queries: persons with a
// residence, a gender, and birth and death dates.
package people

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gottscj/Serialize.Linq/pkg/registry"
)

type Gender int

const (
	Male Gender = iota
	Female
)

func (g Gender) String() string {
	switch g {
	case Male:
		return "Male"
	case Female:
		return "Female"
	}
	return fmt.Sprintf("Gender(%d)", int(g))
}

func (g Gender) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *Gender) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "male", "m":
		*g = Male
	case "female", "f":
		*g = Female
	default:
		return fmt.Errorf("unknown gender %q", b)
	}
	return nil
}

type Person struct {
	ID        int        `json:"id"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Age       int        `json:"age"`
	Gender    Gender     `json:"gender"`
	BirthDate time.Time  `json:"birthDate"`
	DeathDate *time.Time `json:"deathDate"`
	Residence string     `json:"residence"`
}

// FullName joins the first and last name.
func (p Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Living reports whether the person has no recorded death date.
func (p Person) Living() bool {
	return p.DeathDate == nil
}

var (
	PersonType = reflect.TypeFor[Person]()
	GenderType = reflect.TypeFor[Gender]()
)

// Register makes the people types known to reg.
func Register(reg *registry.Registry) error {
	reg.Register(PersonType)
	reg.AddEnum(GenderType,
		registry.EnumValue{Name: Male.String(), Value: int64(Male)},
		registry.EnumValue{Name: Female.String(), Value: int64(Female)},
	)
	if err := reg.AddConstructor(NewPerson); err != nil {
		return err
	}
	return reg.AddFunc(PersonType, "AgeAt", AgeAt)
}

// NewPerson splits name into first and last name.
func NewPerson(name string) Person {
	first, last, _ := strings.Cut(strings.TrimSpace(name), " ")
	return Person{FirstName: first, LastName: strings.TrimSpace(last)}
}

// AgeAt is the age in whole years on the date end.
func AgeAt(birth, end time.Time) int {
	age := end.Year() - birth.Year()
	if birth.After(end.AddDate(-age, 0, 0)) {
		age--
	}
	return age
}

// Repository is a concurrency-safe in-memory person store.
type Repository struct {
	mu      sync.RWMutex
	persons []Person
}

func NewRepository(persons ...Person) *Repository {
	r := &Repository{}
	for _, p := range persons {
		r.Add(p)
	}
	return r
}

// Add stores p under the next free ID and returns the stored record.
func (r *Repository) Add(p Person) Person {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = len(r.persons) + 1
	r.persons = append(r.persons, p)
	return p
}

// All returns a copy of every person in ID order.
func (r *Repository) All() []Person {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.persons)
}

func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.persons)
}

// Where returns the persons matching pred. The first evaluation error stops
// the scan.
func (r *Repository) Where(pred func(Person) (bool, error)) ([]Person, error) {
	out := []Person{}
	for _, p := range r.All() {
		ok, err := pred(p)
		if err != nil {
			return nil, fmt.Errorf("person %d: %w", p.ID, err)
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}
