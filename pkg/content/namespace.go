package content

import (
	"sort"
	"strings"
)

// NamespaceID is the numeric namespace index.
type NamespaceID int

const (
	NSMedia         NamespaceID = -2
	NSSpecial       NamespaceID = -1
	NSMain          NamespaceID = 0
	NSTalk          NamespaceID = 1
	NSUser          NamespaceID = 2
	NSUserTalk      NamespaceID = 3
	NSProject       NamespaceID = 4
	NSProjectTalk   NamespaceID = 5
	NSFile          NamespaceID = 6
	NSFileTalk      NamespaceID = 7
	NSMediaWiki     NamespaceID = 8
	NSMediaWikiTalk NamespaceID = 9
	NSTemplate      NamespaceID = 10
	NSTemplateTalk  NamespaceID = 11
	NSHelp          NamespaceID = 12
	NSHelpTalk      NamespaceID = 13
	NSCategory      NamespaceID = 14
	NSCategoryTalk  NamespaceID = 15

	// NSGitAccessRoot holds pages that land directly in the repository root.
	NSGitAccessRoot NamespaceID = 3000
)

// Namespace describes one namespace. Name is the canonical name with
// underscores; the main namespace has an empty name.
type Namespace struct {
	ID       NamespaceID
	Name     string
	Subpages bool
}

// NamespaceTable is a set of namespaces ordered by id.
type NamespaceTable []Namespace

// DefaultNamespaces returns the canonical MediaWiki namespaces plus
// GitAccess_root, with MediaWiki's default subpage settings.
func DefaultNamespaces() NamespaceTable {
	return NamespaceTable{
		{ID: NSMedia, Name: "Media"},
		{ID: NSSpecial, Name: "Special"},
		{ID: NSMain, Name: ""},
		{ID: NSTalk, Name: "Talk", Subpages: true},
		{ID: NSUser, Name: "User", Subpages: true},
		{ID: NSUserTalk, Name: "User_talk", Subpages: true},
		{ID: NSProject, Name: "Project", Subpages: true},
		{ID: NSProjectTalk, Name: "Project_talk", Subpages: true},
		{ID: NSFile, Name: "File"},
		{ID: NSFileTalk, Name: "File_talk", Subpages: true},
		{ID: NSMediaWiki, Name: "MediaWiki", Subpages: true},
		{ID: NSMediaWikiTalk, Name: "MediaWiki_talk", Subpages: true},
		{ID: NSTemplate, Name: "Template", Subpages: true},
		{ID: NSTemplateTalk, Name: "Template_talk", Subpages: true},
		{ID: NSHelp, Name: "Help", Subpages: true},
		{ID: NSHelpTalk, Name: "Help_talk", Subpages: true},
		{ID: NSCategory, Name: "Category"},
		{ID: NSCategoryTalk, Name: "Category_talk", Subpages: true},
		{ID: NSGitAccessRoot, Name: "GitAccess_root"},
	}
}

// Get returns the namespace with the given id.
func (t NamespaceTable) Get(id NamespaceID) (Namespace, bool) {
	for _, ns := range t {
		if ns.ID == id {
			return ns, true
		}
	}
	return Namespace{}, false
}

// ByName finds a namespace by canonical name. Matching ignores case and
// treats spaces and underscores alike.
func (t NamespaceTable) ByName(name string) (Namespace, bool) {
	key := normalizeNamespaceName(name)
	for _, ns := range t {
		if normalizeNamespaceName(ns.Name) == key {
			return ns, true
		}
	}
	return Namespace{}, false
}

// With returns a copy of t with ns added or replaced, kept sorted by id.
func (t NamespaceTable) With(ns Namespace) NamespaceTable {
	out := make(NamespaceTable, 0, len(t)+1)
	for _, existing := range t {
		if existing.ID != ns.ID {
			out = append(out, existing)
		}
	}
	out = append(out, ns)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func normalizeNamespaceName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}
