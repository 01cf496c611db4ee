// SPDX-License-Identifier: Apache-2.0

package store

// ChangeKind classifies how one key changed between a base and a variant
// mapping (spec.md §4.5 "Change classification").
type ChangeKind int

const (
	Unchanged ChangeKind = iota
	Added
	Removed
	Mutated
)

// ChangeSet partitions every key of base ∪ variant into exactly one of
// the four ChangeKind buckets (spec.md §4.5 "Partitions are complete and
// disjoint").
type ChangeSet[V comparable] struct {
	Added     map[string]V
	Removed   map[string]V
	Mutated   map[string]V // value is variant's new value
	Unchanged map[string]V
}

// Classify computes the ChangeSet of variant against base.
func Classify[V comparable](base, variant map[string]V) *ChangeSet[V] {
	cs := &ChangeSet[V]{
		Added:     map[string]V{},
		Removed:   map[string]V{},
		Mutated:   map[string]V{},
		Unchanged: map[string]V{},
	}
	for k, bv := range base {
		vv, ok := variant[k]
		switch {
		case !ok:
			cs.Removed[k] = bv
		case bv == vv:
			cs.Unchanged[k] = vv
		default:
			cs.Mutated[k] = vv
		}
	}
	for k, vv := range variant {
		if _, ok := base[k]; !ok {
			cs.Added[k] = vv
		}
	}
	return cs
}

// ThreeWay holds the six change bundles spec.md §4.5 names: master's and
// dev's classification against a common ancestor, for one layer (schemas,
// one arrayset's samples, or metadata).
type ThreeWay[V comparable] struct {
	Master *ChangeSet[V]
	Dev    *ChangeSet[V]
}

// DiffThreeWay computes master's and dev's changes against ancestor.
func DiffThreeWay[V comparable](ancestor, master, dev map[string]V) *ThreeWay[V] {
	return &ThreeWay[V]{
		Master: Classify(ancestor, master),
		Dev:    Classify(ancestor, dev),
	}
}

// ConflictKind names one of the four conflict shapes spec.md §4.5's
// table distinguishes.
type ConflictKind int

const (
	ConflictAddAdd ConflictKind = iota
	ConflictRemoveMutate
	ConflictMutateMutate
	ConflictTypeStructure
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictAddAdd:
		return "add/add"
	case ConflictRemoveMutate:
		return "remove/mutate"
	case ConflictMutateMutate:
		return "mutate/mutate"
	case ConflictTypeStructure:
		return "type/structure"
	default:
		return "unknown"
	}
}

// Conflict names one conflicting key within one layer.
type Conflict struct {
	Layer string // "schemas", "metadata", or "samples:<arrayset>"
	Key   string
	Kind  ConflictKind
}

// DetectConflicts implements spec.md §4.5's conflict table over one
// three-way diff layer.
func DetectConflicts[V comparable](layer string, tw *ThreeWay[V]) []Conflict {
	var conflicts []Conflict

	for k, mv := range tw.Master.Added {
		if dv, ok := tw.Dev.Added[k]; ok && mv != dv {
			conflicts = append(conflicts, Conflict{Layer: layer, Key: k, Kind: ConflictAddAdd})
		}
	}
	for k := range tw.Master.Removed {
		if _, ok := tw.Dev.Mutated[k]; ok {
			conflicts = append(conflicts, Conflict{Layer: layer, Key: k, Kind: ConflictRemoveMutate})
		}
	}
	for k := range tw.Dev.Removed {
		if _, ok := tw.Master.Mutated[k]; ok {
			conflicts = append(conflicts, Conflict{Layer: layer, Key: k, Kind: ConflictRemoveMutate})
		}
	}
	for k, mv := range tw.Master.Mutated {
		if dv, ok := tw.Dev.Mutated[k]; ok && mv != dv {
			conflicts = append(conflicts, Conflict{Layer: layer, Key: k, Kind: ConflictMutateMutate})
		}
	}
	return conflicts
}

// ApplyPatch implements spec.md §4.5's "Patch application": start from
// master's map, bring in dev's non-conflicting adds/removes/mutations,
// and leave master's own changes and unchanged keys untouched.
func ApplyPatch[V comparable](master map[string]V, tw *ThreeWay[V]) map[string]V {
	out := make(map[string]V, len(master))
	for k, v := range master {
		out[k] = v
	}
	for k, v := range tw.Dev.Added {
		if _, ok := tw.Master.Added[k]; !ok {
			out[k] = v
		}
	}
	for k := range tw.Dev.Removed {
		if _, ok := tw.Master.Unchanged[k]; ok {
			delete(out, k)
		}
	}
	for k, v := range tw.Dev.Mutated {
		if _, ok := tw.Master.Mutated[k]; !ok {
			out[k] = v
		}
	}
	return out
}
