package registry

import (
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/gottscj/Serialize.Linq/pkg/expr"
	"github.com/gottscj/Serialize.Linq/pkg/nodes"
)

// Stats counts cache activity.
type Stats struct {
	TypeHits      int64
	TypeMisses    int64
	MemberHits    int64
	MemberMisses  int64
	CachedTypes   int
	CachedMembers int
}

// Cache memoizes type and member resolution against a Registry. Concurrent
// lookups of the same key share one resolution, and the first published
// result is the one every caller observes. Failures are not cached.
type Cache struct {
	reg *Registry

	types   sync.Map
	members sync.Map
	group   singleflight.Group

	typeHits, typeMisses     atomic.Int64
	memberHits, memberMisses atomic.Int64
}

// NewCache returns an empty cache over reg.
func NewCache(reg *Registry) *Cache {
	return &Cache{reg: reg}
}

// Registry returns the registry the cache resolves against.
func (c *Cache) Registry() *Registry {
	return c.reg
}

// ResolveType turns a descriptor into a Go type. An empty descriptor yields
// nil without error. Generic descriptors close their definition over the
// resolved arguments.
func (c *Cache) ResolveType(d nodes.TypeDescriptor) (reflect.Type, error) {
	if d.IsZero() {
		return nil, nil
	}
	if len(d.GenericArguments) == 0 {
		return c.resolveName(d.Name)
	}
	def, ok := c.reg.Generic(d.Name)
	if !ok {
		return nil, &TypeResolutionError{Name: d.String()}
	}
	args := make([]reflect.Type, len(d.GenericArguments))
	for i, a := range d.GenericArguments {
		t, err := c.ResolveType(a)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, &TypeResolutionError{Name: d.String()}
		}
		args[i] = t
	}
	t, err := def(args...)
	if err != nil {
		return nil, &TypeResolutionError{Name: d.String(), Err: err}
	}
	return t, nil
}

func (c *Cache) resolveName(name string) (reflect.Type, error) {
	if t, ok := c.types.Load(name); ok {
		c.typeHits.Add(1)
		return t.(reflect.Type), nil
	}
	v, err, _ := c.group.Do("type\x00"+name, func() (any, error) {
		if t, ok := c.types.Load(name); ok {
			return t, nil
		}
		c.typeMisses.Add(1)
		t, ok := c.reg.Lookup(name)
		if !ok {
			t, ok = c.reg.Scan(name)
		}
		if !ok {
			return nil, &TypeResolutionError{Name: name}
		}
		actual, _ := c.types.LoadOrStore(name, t)
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(reflect.Type), nil
}

// ResolveMember resolves q through the registry, memoizing the result per
// owner, access, privacy policy, signature and argument types.
func (c *Cache) ResolveMember(q MemberQuery) (*expr.Member, error) {
	key := memberKey(q)
	if m, ok := c.members.Load(key); ok {
		c.memberHits.Add(1)
		return m.(*expr.Member), nil
	}
	v, err, _ := c.group.Do("member\x00"+key, func() (any, error) {
		if m, ok := c.members.Load(key); ok {
			return m, nil
		}
		c.memberMisses.Add(1)
		m, err := c.reg.FindMember(q)
		if err != nil {
			return nil, err
		}
		actual, _ := c.members.LoadOrStore(key, m)
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*expr.Member), nil
}

func memberKey(q MemberQuery) string {
	var sb strings.Builder
	sb.WriteString(typeKey(q.Owner))
	sb.WriteString("\x00")
	sb.WriteString(strconv.Itoa(int(q.Access)))
	sb.WriteString("\x00")
	sb.WriteString(strconv.FormatBool(q.AllowPrivate))
	sb.WriteString("\x00")
	sb.WriteString(q.Signature)
	for _, a := range q.Args {
		sb.WriteString("\x00")
		sb.WriteString(typeKey(a))
	}
	return sb.String()
}

// Stats reports cache activity so far.
func (c *Cache) Stats() Stats {
	s := Stats{
		TypeHits:     c.typeHits.Load(),
		TypeMisses:   c.typeMisses.Load(),
		MemberHits:   c.memberHits.Load(),
		MemberMisses: c.memberMisses.Load(),
	}
	c.types.Range(func(any, any) bool {
		s.CachedTypes++
		return true
	})
	c.members.Range(func(any, any) bool {
		s.CachedMembers++
		return true
	})
	return s
}

// Reset drops every cached entry.
func (c *Cache) Reset() {
	c.types.Clear()
	c.members.Clear()
}
