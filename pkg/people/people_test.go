package people

import (
	"bytes"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/gottscj/Serialize.Linq/pkg/registry"
)

var today = time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

func TestLoadSample(t *testing.T) {
	ps, err := LoadSample(LoadOptions{Today: today})
	require.NoError(t, err)
	require.Len(t, ps, 14)

	calment := ps[0]
	assert.Equal(t, 1, calment.ID)
	assert.Equal(t, "Jeanne", calment.FirstName)
	assert.Equal(t, "Calment", calment.LastName)
	assert.Equal(t, Female, calment.Gender)
	assert.Equal(t, 122, calment.Age)
	assert.Equal(t, "France", calment.Residence)
	require.NotNil(t, calment.DeathDate)
	assert.Equal(t, time.Date(1997, 8, 4, 0, 0, 0, 0, time.UTC), *calment.DeathDate)

	mori := ps[11]
	assert.Equal(t, "Kenji Mori", mori.FullName())
	assert.True(t, mori.Living())
	assert.Equal(t, Male, mori.Gender)
	assert.Equal(t, 100, mori.Age)

	var japan, living int
	for _, p := range ps {
		if p.Residence == "Japan" {
			japan++
		}
		if p.Living() {
			living++
		}
	}
	assert.Equal(t, 5, japan)
	assert.Equal(t, 3, living)
}

func TestLoadCSVSkipsBadRecords(t *testing.T) {
	input := strings.Join([]string{
		"1;Ada Lovelace;F;10.12.1815;27.11.1852;36;United Kingdom",
		"",
		"2;Nobody;M;01.01.1900;Living;;Nowhere",
		"3;Bad Date;M;1900-01-01;Living;;Nowhere",
		"4;Short Row;M",
		"5;Alan Turing;M;23.06.1912;07.06.1954;41;United Kingdom",
	}, "\r\n")

	ps, err := LoadCSV(strings.NewReader(input), LoadOptions{Today: today})
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "Ada", ps[0].FirstName)
	assert.Equal(t, 36, ps[0].Age)
	assert.Equal(t, 2, ps[1].ID)
	assert.Equal(t, "Turing", ps[1].LastName)
	assert.Equal(t, 41, ps[1].Age)
}

func TestLoadCSVWindows1252(t *testing.T) {
	line := "1;Zoë Müller;F;01.02.1930;Living;;Österreich\n"
	encoded, err := charmap.Windows1252.NewEncoder().String(line)
	require.NoError(t, err)
	require.NotEqual(t, line, encoded)

	ps, err := LoadCSV(bytes.NewReader([]byte(encoded)), LoadOptions{Encoding: "windows-1252", Today: today})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "Zoë", ps[0].FirstName)
	assert.Equal(t, "Müller", ps[0].LastName)
	assert.Equal(t, "Österreich", ps[0].Residence)
	assert.Equal(t, 96, ps[0].Age)

	_, err = LoadCSV(strings.NewReader(line), LoadOptions{Encoding: "klingon"})
	require.Error(t, err)
}

func TestAgeAt(t *testing.T) {
	birth := time.Date(2000, 6, 15, 0, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		end  time.Time
		want int
	}{
		{time.Date(2010, 6, 14, 0, 0, 0, 0, time.UTC), 9},
		{time.Date(2010, 6, 15, 0, 0, 0, 0, time.UTC), 10},
		{time.Date(2010, 12, 31, 0, 0, 0, 0, time.UTC), 10},
	} {
		assert.Equal(t, tc.want, AgeAt(birth, tc.end), tc.end.String())
	}
}

func TestGenderText(t *testing.T) {
	b, err := Female.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Female", string(b))

	var g Gender
	require.NoError(t, g.UnmarshalText([]byte("male")))
	assert.Equal(t, Male, g)
	require.Error(t, g.UnmarshalText([]byte("x")))
}

func TestRepository(t *testing.T) {
	repo := NewRepository()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			repo.Add(Person{FirstName: "P", Age: i})
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, repo.Len())

	ids := map[int]bool{}
	for _, p := range repo.All() {
		ids[p.ID] = true
	}
	assert.Len(t, ids, 20)

	old, err := repo.Where(func(p Person) (bool, error) { return p.Age >= 10, nil })
	require.NoError(t, err)
	assert.Len(t, old, 10)

	none, err := repo.Where(func(Person) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRegister(t *testing.T) {
	reg := registry.New()
	require.NoError(t, Register(reg))

	typ, ok := reg.Lookup("people.Person")
	require.True(t, ok)
	assert.Equal(t, PersonType, typ)

	v, ok := reg.EnumValue(GenderType, "female")
	require.True(t, ok)
	assert.EqualValues(t, Female, v)

	_, ok = reg.Constructor(PersonType, reflect.TypeFor[string]())
	assert.True(t, ok)
}
