// Package btree implements a value-typed, persistent B+ tree used as the
// backing structure for both the primary index (DocumentID -> Path) and the
// trigram index (trigram -> postings).
//
// Every mutating operation returns a new [Tree] that shares unmodified
// subtrees with its predecessor (structural sharing, copy-on-write along the
// root-to-leaf path only) rather than mutating in place or copying the
// whole tree. Prior [Tree] values remain valid and unchanged.
package btree

import (
	"cmp"
	"slices"
)

// defaultOrder bounds the number of keys per node before a split, and the
// number of children an internal node holds (order+1).
const defaultOrder = 32

// node is shared between leaf and internal representations. leaf nodes hold
// keys/values; internal nodes hold keys as separators and one more child
// than key (children[i] holds keys < keys[i], children[len(keys)] holds the
// rest).
type node[K cmp.Ordered, V any] struct {
	leaf     bool
	keys     []K
	values   []V // leaf only, len(values) == len(keys)
	children []*node[K, V]
}

// Tree is an immutable, persistent B+ tree snapshot.
type Tree[K cmp.Ordered, V any] struct {
	root  *node[K, V]
	count int
	order int
}

// CreateEmpty returns a new, empty Tree.
func CreateEmpty[K cmp.Ordered, V any]() *Tree[K, V] {
	return &Tree[K, V]{
		root:  &node[K, V]{leaf: true},
		order: defaultOrder,
	}
}

// CountEntries returns the number of key/value pairs in the tree.
func (t *Tree[K, V]) CountEntries() int { return t.count }

// Search returns the value stored for key, if any.
func (t *Tree[K, V]) Search(key K) (V, bool) {
	return searchNode(t.root, key)
}

func searchNode[K cmp.Ordered, V any](n *node[K, V], key K) (V, bool) {
	if n.leaf {
		idx, found := lowerBound(n.keys, key)
		if found {
			return n.values[idx], true
		}
		var zero V
		return zero, false
	}
	idx := upperBound(n.keys, key)
	return searchNode(n.children[idx], key)
}

// Insert returns a new Tree with key mapped to val. If key already exists,
// its value is overwritten (last-write-wins).
func (t *Tree[K, V]) Insert(key K, val V) *Tree[K, V] {
	newRoot, splitKey, splitRight, didSplit, isNew := insertNode(t.root, key, val, t.order)
	if didSplit {
		newRoot = &node[K, V]{
			leaf:     false,
			keys:     []K{splitKey},
			children: []*node[K, V]{newRoot, splitRight},
		}
	}

	newCount := t.count
	if isNew {
		newCount++
	}

	return &Tree[K, V]{root: newRoot, count: newCount, order: t.order}
}

// insertNode inserts (key,val) under n, returning the (possibly copied) new
// node, and split metadata if n overflowed and had to split.
func insertNode[K cmp.Ordered, V any](n *node[K, V], key K, val V, order int) (newNode *node[K, V], splitKey K, splitRight *node[K, V], didSplit bool, isNew bool) {
	if n.leaf {
		idx, found := lowerBound(n.keys, key)

		keys := make([]K, len(n.keys))
		copy(keys, n.keys)
		values := make([]V, len(n.values))
		copy(values, n.values)

		if found {
			values[idx] = val
			return &node[K, V]{leaf: true, keys: keys, values: values}, splitKey, nil, false, false
		}

		keys = insertAt(keys, idx, key)
		values = insertAt(values, idx, val)
		leaf := &node[K, V]{leaf: true, keys: keys, values: values}

		if len(keys) <= order {
			return leaf, splitKey, nil, false, true
		}

		mid := len(keys) / 2
		left := &node[K, V]{leaf: true, keys: keys[:mid], values: values[:mid]}
		right := &node[K, V]{leaf: true, keys: keys[mid:], values: values[mid:]}
		return left, right.keys[0], right, true, true
	}

	idx := upperBound(n.keys, key)
	newChild, childSplitKey, childSplitRight, childDidSplit, isNewKey := insertNode(n.children[idx], key, val, order)

	children := make([]*node[K, V], len(n.children))
	copy(children, n.children)
	children[idx] = newChild

	keys := make([]K, len(n.keys))
	copy(keys, n.keys)

	if !childDidSplit {
		return &node[K, V]{leaf: false, keys: keys, children: children}, splitKey, nil, false, isNewKey
	}

	keys = insertAt(keys, idx, childSplitKey)
	children = insertAt(children, idx+1, childSplitRight)
	internal := &node[K, V]{leaf: false, keys: keys, children: children}

	if len(keys) <= order {
		return internal, splitKey, nil, false, isNewKey
	}

	mid := len(keys) / 2
	promoted := keys[mid]
	left := &node[K, V]{leaf: false, keys: keys[:mid], children: children[:mid+1]}
	right := &node[K, V]{leaf: false, keys: keys[mid+1:], children: children[mid+1:]}
	return left, promoted, right, true, isNewKey
}

// Delete returns a new Tree with key removed, if present.
func (t *Tree[K, V]) Delete(key K) *Tree[K, V] {
	newRoot, found, _ := deleteNode(t.root, key)
	if !found {
		return t
	}

	for !newRoot.leaf && len(newRoot.children) == 1 {
		newRoot = newRoot.children[0]
	}

	return &Tree[K, V]{root: newRoot, count: t.count - 1, order: t.order}
}

func deleteNode[K cmp.Ordered, V any](n *node[K, V], key K) (newNode *node[K, V], found bool, becameEmpty bool) {
	if n.leaf {
		idx, ok := lowerBound(n.keys, key)
		if !ok {
			return n, false, false
		}

		keys := removeAt(n.keys, idx)
		values := removeAt(n.values, idx)
		leaf := &node[K, V]{leaf: true, keys: keys, values: values}
		return leaf, true, len(keys) == 0
	}

	idx := upperBound(n.keys, key)
	newChild, childFound, childEmpty := deleteNode(n.children[idx], key)
	if !childFound {
		return n, false, false
	}

	children := make([]*node[K, V], len(n.children))
	copy(children, n.children)
	keys := make([]K, len(n.keys))
	copy(keys, n.keys)

	if !childEmpty {
		children[idx] = newChild
		return &node[K, V]{leaf: false, keys: keys, children: children}, true, false
	}

	children = removeAt(children, idx)
	sepIdx := idx
	if sepIdx > 0 {
		sepIdx--
	}
	if len(keys) > 0 {
		keys = removeAt(keys, sepIdx)
	}

	internal := &node[K, V]{leaf: false, keys: keys, children: children}
	return internal, true, len(children) == 0
}

// Pair is a key/value pair as returned by ExtractAllPairs.
type Pair[K cmp.Ordered, V any] struct {
	Key   K
	Value V
}

// ExtractAllPairs returns every pair in ascending key order.
func (t *Tree[K, V]) ExtractAllPairs() []Pair[K, V] {
	pairs := make([]Pair[K, V], 0, t.count)
	var walk func(n *node[K, V])
	walk = func(n *node[K, V]) {
		if n.leaf {
			for i, k := range n.keys {
				pairs = append(pairs, Pair[K, V]{Key: k, Value: n.values[i]})
			}
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(t.root)
	return pairs
}

// BulkInsert builds a new Tree containing the union of t's existing pairs
// and pairs, with later entries in pairs winning over earlier ones and over
// t's existing entries for duplicate keys (last-write-wins).
//
// The result is built bottom-up from sorted, deduplicated pairs so every
// leaf lands at the same depth and every node is packed to a target
// utilization, satisfying the balance/utilization contract in spec.md §4.1:
// this is both algorithmically and empirically faster than len(pairs)
// sequential Insert calls, since it performs one sort + two linear passes
// instead of O(n log n) tree descents.
func (t *Tree[K, V]) BulkInsert(pairs []Pair[K, V]) *Tree[K, V] {
	merged := mergePairs(t.ExtractAllPairs(), pairs)
	return buildFromSorted[K, V](merged, t.order)
}

// BulkDelete builds a new Tree with every key in keys removed.
func (t *Tree[K, V]) BulkDelete(keys []K) *Tree[K, V] {
	toDelete := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		toDelete[k] = struct{}{}
	}

	existing := t.ExtractAllPairs()
	remaining := make([]Pair[K, V], 0, len(existing))
	for _, p := range existing {
		if _, dead := toDelete[p.Key]; !dead {
			remaining = append(remaining, p)
		}
	}

	return buildFromSorted[K, V](remaining, t.order)
}

// mergePairs sorts and deduplicates a followed by b (by key, ascending),
// with b's entries overriding a's on duplicate keys.
func mergePairs[K cmp.Ordered, V any](a, b []Pair[K, V]) []Pair[K, V] {
	byKey := make(map[K]V, len(a)+len(b))
	order := make([]K, 0, len(a)+len(b))

	for _, p := range a {
		if _, exists := byKey[p.Key]; !exists {
			order = append(order, p.Key)
		}
		byKey[p.Key] = p.Value
	}
	for _, p := range b {
		if _, exists := byKey[p.Key]; !exists {
			order = append(order, p.Key)
		}
		byKey[p.Key] = p.Value
	}

	sortSlice(order)

	out := make([]Pair[K, V], len(order))
	for i, k := range order {
		out[i] = Pair[K, V]{Key: k, Value: byKey[k]}
	}
	return out
}

// leafPackFactor targets roughly 3/4 capacity per bulk-built node, keeping
// utilization_factor comfortably above the 0.5 contract while leaving
// headroom before a node must split on a subsequent single Insert.
const leafPackFactor = 3

func buildFromSorted[K cmp.Ordered, V any](pairs []Pair[K, V], order int) *Tree[K, V] {
	if len(pairs) == 0 {
		return CreateEmpty[K, V]()
	}

	packSize := (order * leafPackFactor) / 4
	if packSize < 2 {
		packSize = 2
	}

	// Chunking pairs into fixed-size packSize leaves leaves a short final
	// leaf whenever len(pairs) isn't a multiple of packSize, which can push
	// balance_factor below the 0.8 contract for large bulk loads. Instead,
	// fix the leaf count up front and spread pairs over it as evenly as
	// possible (sizes differ by at most one key).
	numLeaves := (len(pairs) + packSize - 1) / packSize
	base := len(pairs) / numLeaves
	rem := len(pairs) % numLeaves

	leaves := make([]*node[K, V], 0, numLeaves)
	i := 0
	for l := 0; l < numLeaves; l++ {
		size := base
		if l < rem {
			size++
		}
		end := i + size
		keys := make([]K, 0, size)
		values := make([]V, 0, size)
		for _, p := range pairs[i:end] {
			keys = append(keys, p.Key)
			values = append(values, p.Value)
		}
		leaves = append(leaves, &node[K, V]{leaf: true, keys: keys, values: values})
		i = end
	}

	level := leaves
	for len(level) > 1 {
		level = packLevel(level, packSize)
	}

	return &Tree[K, V]{root: level[0], count: len(pairs), order: order}
}

// packLevel groups a level of nodes into parent internal nodes, each
// holding up to packSize children and packSize-1 separator keys (the first
// key of each non-leading child).
func packLevel[K cmp.Ordered, V any](level []*node[K, V], packSize int) []*node[K, V] {
	parents := make([]*node[K, V], 0, len(level)/packSize+1)
	for i := 0; i < len(level); i += packSize {
		end := min(i+packSize, len(level))
		children := level[i:end]

		keys := make([]K, 0, len(children)-1)
		for _, c := range children[1:] {
			keys = append(keys, firstKey(c))
		}

		parents = append(parents, &node[K, V]{leaf: false, keys: keys, children: append([]*node[K, V]{}, children...)})
	}
	return parents
}

func firstKey[K cmp.Ordered, V any](n *node[K, V]) K {
	for !n.leaf {
		n = n.children[0]
	}
	return n.keys[0]
}

// Structure summarizes the balance/utilization of a Tree, per spec.md
// §4.1's analyze_tree_structure contract.
type Structure struct {
	Depth             int
	BalanceFactor     float64
	UtilizationFactor float64
	NodeDistribution  []int // node count per level, root first
	LeafDepthVariance float64
}

// AnalyzeTreeStructure computes [Structure] metrics for t.
func (t *Tree[K, V]) AnalyzeTreeStructure() Structure {
	var leafDepths []int
	nodesByLevel := map[int]int{}
	var maxLeafLen, minLeafLen = 0, -1
	var totalLeafLen, leafCount int

	var walk func(n *node[K, V], depth int)
	walk = func(n *node[K, V], depth int) {
		nodesByLevel[depth]++
		if n.leaf {
			leafDepths = append(leafDepths, depth)
			l := len(n.keys)
			totalLeafLen += l
			leafCount++
			if l > maxLeafLen {
				maxLeafLen = l
			}
			if minLeafLen == -1 || l < minLeafLen {
				minLeafLen = l
			}
			return
		}
		for _, c := range n.children {
			walk(c, depth+1)
		}
	}
	walk(t.root, 0)

	depth := 0
	for d := range nodesByLevel {
		if d > depth {
			depth = d
		}
	}

	dist := make([]int, depth+1)
	for d, count := range nodesByLevel {
		dist[d] = count
	}

	variance := leafDepthVariance(leafDepths)

	utilization := 0.0
	if leafCount > 0 {
		utilization = float64(totalLeafLen) / float64(leafCount*t.order)
	}

	balance := 1.0
	if maxLeafLen > 0 {
		balance = 1.0 - float64(maxLeafLen-minLeafLen)/float64(t.order)
		if balance < 0 {
			balance = 0
		}
	}

	return Structure{
		Depth:             depth,
		BalanceFactor:     balance,
		UtilizationFactor: utilization,
		NodeDistribution:  dist,
		LeafDepthVariance: variance,
	}
}

func leafDepthVariance(depths []int) float64 {
	if len(depths) == 0 {
		return 0
	}
	sum := 0
	for _, d := range depths {
		sum += d
	}
	mean := float64(sum) / float64(len(depths))

	var variance float64
	for _, d := range depths {
		diff := float64(d) - mean
		variance += diff * diff
	}
	return variance / float64(len(depths))
}

// lowerBound returns the index of key in keys and true if present, or the
// insertion index and false otherwise.
func lowerBound[K cmp.Ordered](keys []K, key K) (int, bool) {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(keys) && keys[lo] == key {
		return lo, true
	}
	return lo, false
}

// upperBound returns the child index to descend into for key: the count of
// separator keys <= key.
func upperBound[K cmp.Ordered](keys []K, key K) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func insertAt[T any](s []T, idx int, v T) []T {
	s = append(s, v)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func removeAt[T any](s []T, idx int) []T {
	out := make([]T, 0, len(s)-1)
	out = append(out, s[:idx]...)
	out = append(out, s[idx+1:]...)
	return out
}

func sortSlice[K cmp.Ordered](s []K) {
	slices.Sort(s)
}
