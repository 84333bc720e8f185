// Package tree renders a directory as an indented text listing and as a
// nested JSON document. Both renderings come from the same Node tree so they
// always describe the same paths at the same depths.
package tree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lyallcooper/convoy/internal/filelock"
	"github.com/lyallcooper/convoy/internal/pipeline"
)

// NodeType distinguishes directories from files
type NodeType string

const (
	TypeDirectory NodeType = "directory"
	TypeFile      NodeType = "file"
)

const indent = "    "

// Node is a directory or a file. Directory children list subdirectories
// first, then files, each group sorted by name.
type Node struct {
	Name     string
	Type     NodeType
	Children []*Node
}

// IsDir reports whether the node is a directory
func (n *Node) IsDir() bool {
	return n.Type == TypeDirectory
}

type dirJSON struct {
	Name     string   `json:"name"`
	Type     NodeType `json:"type"`
	Children []*Node  `json:"children"`
}

type fileJSON struct {
	Name string   `json:"name"`
	Type NodeType `json:"type"`
}

// MarshalJSON writes files without a children key and directories always with one
func (n *Node) MarshalJSON() ([]byte, error) {
	if !n.IsDir() {
		return json.Marshal(fileJSON{Name: n.Name, Type: n.Type})
	}
	children := n.Children
	if children == nil {
		children = []*Node{}
	}
	return json.Marshal(dirJSON{Name: n.Name, Type: n.Type, Children: children})
}

// Build walks root once and returns its tree
func Build(root string) (*Node, error) {
	if err := pipeline.CheckDir(root); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	return buildDir(abs, filepath.Base(abs))
}

func buildDir(path, name string) (*Node, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}

	node := &Node{Name: name, Type: TypeDirectory, Children: []*Node{}}
	var dirs, files []*Node
	for _, e := range entries {
		if e.IsDir() {
			child, err := buildDir(filepath.Join(path, e.Name()), e.Name())
			if err != nil {
				return nil, err
			}
			dirs = append(dirs, child)
			continue
		}
		if e.Name() == filelock.LockFileName {
			continue
		}
		files = append(files, &Node{Name: e.Name(), Type: TypeFile})
	}

	sortByName(dirs)
	sortByName(files)
	node.Children = append(node.Children, dirs...)
	node.Children = append(node.Children, files...)
	return node, nil
}

func sortByName(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Name < nodes[j].Name
	})
}

// RenderText prints one entry per line, four spaces per depth level, with a
// trailing slash on directory names
func RenderText(root *Node) string {
	var b strings.Builder
	writeText(&b, root, 0)
	return b.String()
}

func writeText(b *strings.Builder, n *Node, depth int) {
	b.WriteString(strings.Repeat(indent, depth))
	b.WriteString(n.Name)
	if n.IsDir() {
		b.WriteString("/")
	}
	b.WriteString("\n")
	for _, c := range n.Children {
		writeText(b, c, depth+1)
	}
}

// RenderJSON returns the tree as indented JSON
func RenderJSON(root *Node) ([]byte, error) {
	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tree: %w", err)
	}
	return append(data, '\n'), nil
}

// Export builds the tree of root and writes <name>.txt and <name>.json into outDir
func Export(root, outDir, name string) (textPath, jsonPath string, err error) {
	if name == "" {
		name = "tree"
	}

	node, err := Build(root)
	if err != nil {
		return "", "", err
	}
	data, err := RenderJSON(node)
	if err != nil {
		return "", "", err
	}

	textPath = filepath.Join(outDir, name+".txt")
	jsonPath = filepath.Join(outDir, name+".json")
	if err := filelock.AtomicWrite(textPath, []byte(RenderText(node))); err != nil {
		return "", "", err
	}
	if err := filelock.AtomicWrite(jsonPath, data); err != nil {
		return "", "", err
	}
	return textPath, jsonPath, nil
}
