package pattern

import (
	"fmt"
	"sort"

	"github.com/harrison/plugintest/internal/fileutil"
	"github.com/spf13/afero"
)

// Group is an unordered set of compiled patterns. A name belongs to the group
// when any of its patterns matches.
type Group []*Glob

// Matches reports whether any pattern in the group matches name.
func (g Group) Matches(name string) bool {
	for _, glob := range g {
		if glob.Match(name) {
			return true
		}
	}
	return false
}

// CompileGroups compiles an ordered list of pattern groups.
func CompileGroups(groups [][]string) ([]Group, error) {
	compiled := make([]Group, len(groups))
	for i, patterns := range groups {
		group := make(Group, 0, len(patterns))
		for _, p := range patterns {
			glob, err := Compile(p)
			if err != nil {
				return nil, fmt.Errorf("group %d: %w", i, err)
			}
			group = append(group, glob)
		}
		compiled[i] = group
	}
	return compiled, nil
}

// Classification holds one sorted list of file names per pattern group. A
// name appears in at most one list.
type Classification struct {
	groups [][]string
	// Unmatched lists the regular files that matched no group.
	Unmatched []string
}

// Len returns the number of groups.
func (c *Classification) Len() int {
	return len(c.groups)
}

// Group returns the file names assigned to group i.
func (c *Classification) Group(i int) []string {
	if i < 0 || i >= len(c.groups) {
		return nil
	}
	return c.groups[i]
}

// Union returns the names assigned to any group, sorted.
func (c *Classification) Union() []string {
	var all []string
	for _, g := range c.groups {
		all = append(all, g...)
	}
	sort.Strings(all)
	return all
}

// Contains reports whether name was assigned to any group.
func (c *Classification) Contains(name string) bool {
	return c.GroupOf(name) >= 0
}

// GroupOf returns the index of the group name was assigned to, or -1.
func (c *Classification) GroupOf(name string) int {
	for i, g := range c.groups {
		idx := sort.SearchStrings(g, name)
		if idx < len(g) && g[idx] == name {
			return i
		}
	}
	return -1
}

// ClassifyNames assigns each name to the first group with a matching pattern.
// It performs no filesystem access.
func ClassifyNames(names []string, groups []Group) *Classification {
	c := &Classification{
		groups:    make([][]string, len(groups)),
		Unmatched: make([]string, 0),
	}
	for i := range c.groups {
		c.groups[i] = make([]string, 0)
	}

	for _, name := range names {
		assigned := false
		for i, g := range groups {
			if g.Matches(name) {
				c.groups[i] = append(c.groups[i], name)
				assigned = true
				break
			}
		}
		if !assigned {
			c.Unmatched = append(c.Unmatched, name)
		}
	}

	for _, g := range c.groups {
		sort.Strings(g)
	}
	sort.Strings(c.Unmatched)

	return c
}

// Classify lists the regular files directly inside dir and partitions them
// by the ordered pattern groups. Earlier groups take precedence.
// Subdirectories and other non-regular entries are ignored.
func Classify(fsys afero.Fs, dir string, groups [][]string) (*Classification, error) {
	compiled, err := CompileGroups(groups)
	if err != nil {
		return nil, err
	}

	names, err := fileutil.ListRegularFiles(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	return ClassifyNames(names, compiled), nil
}
