package domain

import (
	"bytes"
	"encoding/json"
	"maps"
)

type Document struct {
	Body json.RawMessage
	// Written by a mutation that has not been confirmed by the upstream yet
	Optimistic bool
}

// Resources is the cache data of the gateway: JSON documents keyed by upstream path.
//
// Resources is a value. Every With* method returns a modified copy and leaves
// the receiver untouched.
type Resources struct {
	documents map[string]Document
	// Confirmed documents hidden by an optimistic write
	shadowed map[string]Document
}

func (r Resources) Document(path string) (Document, bool) {
	doc, ok := r.documents[path]
	return doc, ok
}

func (r Resources) Len() int {
	return len(r.documents)
}

func (r Resources) clone() Resources {
	clone := Resources{
		documents: maps.Clone(r.documents),
		shadowed:  maps.Clone(r.shadowed),
	}
	if clone.documents == nil {
		clone.documents = make(map[string]Document)
	}
	if clone.shadowed == nil {
		clone.shadowed = make(map[string]Document)
	}
	return clone
}

// WithDocument stores doc at path.
// An optimistic document keeps the confirmed one it replaces, so it can be restored.
func (r Resources) WithDocument(path string, doc Document) Resources {
	next := r.clone()

	current, ok := next.documents[path]
	if doc.Optimistic {
		if _, shadowed := next.shadowed[path]; ok && !current.Optimistic && !shadowed {
			next.shadowed[path] = current
		}
	} else {
		delete(next.shadowed, path)
	}

	next.documents[path] = doc
	return next
}

// WithoutOptimisticDocument removes the optimistic document with the given body from path,
// restoring the confirmed document it replaced
func (r Resources) WithoutOptimisticDocument(path string, body json.RawMessage) Resources {
	current, ok := r.documents[path]
	if !ok || !current.Optimistic || !bytes.Equal(current.Body, body) {
		return r
	}

	next := r.clone()
	if shadowed, ok := next.shadowed[path]; ok {
		next.documents[path] = shadowed
		delete(next.shadowed, path)
	} else {
		delete(next.documents, path)
	}
	return next
}

func (r Resources) WithoutDocument(path string) Resources {
	if _, ok := r.documents[path]; !ok {
		return r
	}

	next := r.clone()
	delete(next.documents, path)
	delete(next.shadowed, path)
	return next
}
