package store

import (
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/teranos/gemstore/errors"
)

// Policy is a deterministic function resolving a write against the value
// already stored under the same key.
type Policy uint8

const (
	// PolicyOverwrite is the default for keys without a merge attribute:
	// the incoming value replaces the local one.
	PolicyOverwrite Policy = iota
	NumNone
	NumMin
	NumMax
	NumAverage
	StrNone
	StrConcat
	ArrNone
	ArrConcat
	ArrUnion
)

var policyNames = map[Policy]string{
	PolicyOverwrite: "OVERWRITE",
	NumNone:         "NUM_NONE",
	NumMin:          "NUM_MIN",
	NumMax:          "NUM_MAX",
	NumAverage:      "NUM_AVERAGE",
	StrNone:         "STR_NONE",
	StrConcat:       "STR_CONCAT",
	ArrNone:         "ARR_NONE",
	ArrConcat:       "ARR_CONCAT",
	ArrUnion:        "ARR_UNION",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return "POLICY(" + strconv.Itoa(int(p)) + ")"
}

// ParsePolicy parses a policy name such as "NUM_MAX" (case-insensitive).
func ParsePolicy(name string) (Policy, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for p, n := range policyNames {
		if n == upper {
			return p, nil
		}
	}
	return PolicyOverwrite, errors.WithHint(
		errors.Wrapf(errors.ErrInvalidRequest, "unknown merge policy %q", name),
		"valid policies: "+strings.Join(PolicyNames(), ", "))
}

// PolicyNames lists the configurable policy names in sorted order.
func PolicyNames() []string {
	names := make([]string, 0, len(policyNames))
	for p, n := range policyNames {
		if p == PolicyOverwrite {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// accepts reports whether the policy is defined for values of kind k.
func (p Policy) accepts(k Kind) bool {
	switch p {
	case PolicyOverwrite:
		return true
	case NumNone, NumMin, NumMax, NumAverage:
		return k == KindInt || k == KindFloat
	case StrNone, StrConcat:
		return k == KindString
	case ArrNone, ArrConcat, ArrUnion:
		return k == KindArray
	default:
		return false
	}
}

// PolicyTable maps keys to their merge policy. Missing keys overwrite.
type PolicyTable map[string]Policy

// ParsePolicyTable converts a key → policy-name map.
func ParsePolicyTable(names map[string]string) (PolicyTable, error) {
	table := make(PolicyTable, len(names))
	for key, name := range names {
		p, err := ParsePolicy(name)
		if err != nil {
			return nil, errors.Wrapf(err, "key %q", key)
		}
		table[key] = p
	}
	return table, nil
}

// Lookup returns the policy for key, PolicyOverwrite when none is configured.
func (t PolicyTable) Lookup(key string) Policy {
	if p, ok := t[key]; ok {
		return p
	}
	return PolicyOverwrite
}

// Merge resolves incoming against local under policy p.
//
// Both values must share a kind, and the kind must be one the policy covers;
// otherwise the result is ErrTypeConflict and nothing should be written.
// AVERAGE and CONCAT depend on application order and are not idempotent.
func Merge(p Policy, local, incoming Value) (Value, error) {
	if local.kind != incoming.kind {
		return Value{}, errors.Wrapf(errors.ErrTypeConflict,
			"local value is %s, incoming is %s", local.kind, incoming.kind)
	}
	if !p.accepts(local.kind) {
		return Value{}, errors.Wrapf(errors.ErrTypeConflict,
			"policy %s does not apply to %s values", p, local.kind)
	}

	switch p {
	case PolicyOverwrite, NumNone, StrNone, ArrNone:
		return incoming.Clone(), nil

	case NumMin:
		if less(incoming, local) {
			return incoming, nil
		}
		return local, nil

	case NumMax:
		if less(local, incoming) {
			return incoming, nil
		}
		return local, nil

	case NumAverage:
		return average(local, incoming), nil

	case StrConcat:
		return String(local.s + incoming.s), nil

	case ArrConcat:
		items := make([]Value, 0, len(local.items)+len(incoming.items))
		items = append(items, local.items...)
		items = append(items, incoming.items...)
		return Array(items...), nil

	case ArrUnion:
		return union(local, incoming), nil

	default:
		return Value{}, errors.Newf("unhandled merge policy %s", p)
	}
}

// less compares two numeric values of the same kind
func less(a, b Value) bool {
	if a.kind == KindInt {
		return a.i < b.i
	}
	return a.f < b.f
}

// average keeps the kind: ints truncate toward zero without overflowing
func average(a, b Value) Value {
	if a.kind == KindInt {
		sum := new(big.Int).Add(big.NewInt(a.i), big.NewInt(b.i))
		return Int(sum.Quo(sum, big.NewInt(2)).Int64())
	}
	return Float(a.f/2 + b.f/2)
}

// union de-duplicates by JSON encoding; local elements keep their order and
// new incoming elements follow.
func union(local, incoming Value) Value {
	seen := make(map[string]struct{}, len(local.items)+len(incoming.items))
	items := make([]Value, 0, len(local.items)+len(incoming.items))
	for _, source := range [][]Value{local.items, incoming.items} {
		for _, item := range source {
			fingerprint := item.String()
			if _, dup := seen[fingerprint]; dup {
				continue
			}
			seen[fingerprint] = struct{}{}
			items = append(items, item)
		}
	}
	return Array(items...)
}
