package ps

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"

	"github.com/nickyhof/CommitQuery/core"
)

// treeChange is a single write or delete applied to the HEAD tree. Deleting a
// directory path removes everything under it.
type treeChange struct {
	path   string
	data   []byte
	delete bool
	blob   plumbing.Hash
}

func writeChange(path string, data []byte) treeChange {
	return treeChange{path: path, data: data}
}

func deleteChange(path string) treeChange {
	return treeChange{path: path, delete: true}
}

// commit applies changes to the HEAD tree and records them as one commit.
// Callers hold the write lock.
func (p *Persistence) commit(changes []treeChange, identity core.Identity, message string) (Transaction, error) {
	if err := p.ensureInitialized(); err != nil {
		return Transaction{}, err
	}

	for i := range changes {
		if changes[i].delete {
			continue
		}
		hash, err := p.createBlob(changes[i].data)
		if err != nil {
			return Transaction{}, fmt.Errorf("failed to create blob for %s: %w", changes[i].path, err)
		}
		changes[i].blob = hash
	}

	currentTree, err := p.currentTree()
	if err != nil {
		return Transaction{}, err
	}

	newTree, err := p.applyChanges(currentTree, changes)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to update tree: %w", err)
	}

	txn, err := p.createCommit(newTree, identity, message)
	if err != nil {
		return Transaction{}, err
	}

	if err := p.syncWorktree(); err != nil {
		return Transaction{}, fmt.Errorf("failed to sync worktree: %w", err)
	}
	return txn, nil
}

// createBlob creates a blob object directly in the object store without filesystem I/O
func (p *Persistence) createBlob(data []byte) (plumbing.Hash, error) {
	obj := p.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))

	writer, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to create blob writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return plumbing.ZeroHash, fmt.Errorf("failed to write blob data: %w", err)
	}
	writer.Close()

	return p.repo.Storer.SetEncodedObject(obj)
}

// currentTree returns the tree of HEAD, or ZeroHash before the first commit.
func (p *Persistence) currentTree() (plumbing.Hash, error) {
	headRef, err := p.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, nil
	}

	commit, err := p.repo.CommitObject(headRef.Hash())
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to get head commit: %w", err)
	}
	return commit.TreeHash, nil
}

func (p *Persistence) treeEntries(treeHash plumbing.Hash) (map[string]object.TreeEntry, error) {
	entries := make(map[string]object.TreeEntry)
	if treeHash == plumbing.ZeroHash {
		return entries, nil
	}

	tree, err := object.GetTree(p.repo.Storer, treeHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}
	for _, entry := range tree.Entries {
		entries[entry.Name] = entry
	}
	return entries, nil
}

// storeTree writes a tree object. Git requires entries sorted by name with
// directories compared as if they had a trailing slash.
func (p *Persistence) storeTree(entries map[string]object.TreeEntry) (plumbing.Hash, error) {
	if len(entries) == 0 {
		return plumbing.ZeroHash, nil
	}

	sorted := make([]object.TreeEntry, 0, len(entries))
	for _, entry := range entries {
		sorted = append(sorted, entry)
	}
	sortKey := func(entry object.TreeEntry) string {
		if entry.Mode == filemode.Dir {
			return entry.Name + "/"
		}
		return entry.Name
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sortKey(sorted[i]) < sortKey(sorted[j])
	})

	obj := p.repo.Storer.NewEncodedObject()
	if err := (&object.Tree{Entries: sorted}).Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
	}
	return p.repo.Storer.SetEncodedObject(obj)
}

// applyChanges rewrites the tree at treeHash, descending once per directory.
// An emptied directory is dropped and reported as ZeroHash.
func (p *Persistence) applyChanges(treeHash plumbing.Hash, changes []treeChange) (plumbing.Hash, error) {
	if len(changes) == 0 {
		return treeHash, nil
	}

	entries, err := p.treeEntries(treeHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	nested := make(map[string][]treeChange)
	for _, change := range changes {
		dir, rest, isNested := strings.Cut(change.path, "/")
		if isNested {
			change.path = rest
			nested[dir] = append(nested[dir], change)
			continue
		}
		if change.delete {
			delete(entries, change.path)
		} else {
			entries[change.path] = object.TreeEntry{Name: change.path, Mode: filemode.Regular, Hash: change.blob}
		}
	}

	for dir, dirChanges := range nested {
		subTree := plumbing.ZeroHash
		if existing, ok := entries[dir]; ok && existing.Mode == filemode.Dir {
			subTree = existing.Hash
		}

		newSubTree, err := p.applyChanges(subTree, dirChanges)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if newSubTree == plumbing.ZeroHash {
			delete(entries, dir)
		} else {
			entries[dir] = object.TreeEntry{Name: dir, Mode: filemode.Dir, Hash: newSubTree}
		}
	}

	return p.storeTree(entries)
}

func (p *Persistence) createCommit(treeHash plumbing.Hash, identity core.Identity, message string) (Transaction, error) {
	if treeHash == plumbing.ZeroHash {
		obj := p.repo.Storer.NewEncodedObject()
		if err := (&object.Tree{}).Encode(obj); err != nil {
			return Transaction{}, fmt.Errorf("failed to encode empty tree: %w", err)
		}
		var err error
		if treeHash, err = p.repo.Storer.SetEncodedObject(obj); err != nil {
			return Transaction{}, fmt.Errorf("failed to store empty tree: %w", err)
		}
	}

	var parents []plumbing.Hash
	headRef, err := p.repo.Head()
	if err == nil {
		parents = []plumbing.Hash{headRef.Hash()}
	}

	sig := object.Signature{Name: identity.Name, Email: identity.Email, When: time.Now()}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: parents,
	}

	obj := p.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return Transaction{}, fmt.Errorf("failed to encode commit: %w", err)
	}
	commitHash, err := p.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to store commit: %w", err)
	}

	branch := plumbing.Master
	if headRef != nil && headRef.Name().IsBranch() {
		branch = headRef.Name()
	}
	if err := p.repo.Storer.SetReference(plumbing.NewHashReference(branch, commitHash)); err != nil {
		return Transaction{}, fmt.Errorf("failed to update HEAD: %w", err)
	}

	return Transaction{Id: commitHash.String(), When: sig.When, Author: identity.String()}, nil
}

// syncWorktree resets the worktree to HEAD so a later pull can fast-forward.
// Memory mode reads from the Git tree only and skips it.
func (p *Persistence) syncWorktree() error {
	if p.memory {
		return nil
	}

	wt, err := p.repo.Worktree()
	if err != nil {
		return err
	}
	headRef, err := p.repo.Head()
	if err != nil {
		return err
	}
	commit, err := p.repo.CommitObject(headRef.Hash())
	if err != nil {
		return err
	}
	tree, err := commit.Tree()
	if err != nil {
		return err
	}

	// reset refuses to empty the base directory
	if len(tree.Entries) == 0 {
		entries, err := wt.Filesystem.ReadDir("/")
		if err != nil {
			return nil
		}
		for _, entry := range entries {
			if entry.Name() != ".git" {
				wt.Filesystem.Remove(entry.Name())
			}
		}
		return nil
	}

	return wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: headRef.Hash()})
}

func (p *Persistence) headTree() (*object.Tree, error) {
	headRef, err := p.repo.Head()
	if err != nil {
		return nil, nil
	}
	commit, err := p.repo.CommitObject(headRef.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	return commit.Tree()
}

// readFile returns the content of filePath at HEAD; ok is false when the file
// does not exist.
func (p *Persistence) readFile(filePath string) (data []byte, ok bool, err error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, false, err
	}

	tree, err := p.headTree()
	if err != nil || tree == nil {
		return nil, false, err
	}

	file, err := tree.File(filePath)
	if err != nil {
		return nil, false, nil
	}
	content, err := file.Contents()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	return []byte(content), true, nil
}

// listFiles returns the names of the regular files in dirPath ending in suffix.
func (p *Persistence) listFiles(dirPath, suffix string) ([]string, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	tree, err := p.headTree()
	if err != nil || tree == nil {
		return nil, err
	}
	if dirPath != "" {
		if tree, err = tree.Tree(dirPath); err != nil {
			return nil, nil
		}
	}

	var names []string
	for _, entry := range tree.Entries {
		if entry.Mode != filemode.Dir && strings.HasSuffix(entry.Name, suffix) {
			names = append(names, entry.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}
