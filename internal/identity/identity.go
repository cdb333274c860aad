// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package identity assigns dense integer ids to the classes and methods seen
// by the collector. Registration is idempotent and the first registration of
// a key wins.
package identity

import (
	"errors"
	"strings"
	"sync"
)

// ErrInvalidMethod is returned when registering a method with a blank name or
// signature.
var ErrInvalidMethod = errors.New("method name and signature must not be blank")

type classKey struct {
	name, sourceFile string
}

// ClassRegistry maps (class name, source file) pairs to ids.
type ClassRegistry struct {
	mu  sync.Mutex
	ids map[classKey]int32
}

// NewClassRegistry returns an empty registry.
func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{ids: make(map[classKey]int32)}
}

// Record returns the id of the class, assigning the next one on first sight.
func (r *ClassRegistry) Record(className, sourceFile string) int32 {
	k := classKey{className, sourceFile}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[k]; ok {
		return id
	}
	id := int32(len(r.ids))
	r.ids[k] = id
	return id
}

// Len returns the number of registered classes.
func (r *ClassRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// MethodInformation describes a registered method. It never changes once
// registered.
type MethodInformation struct {
	ID        int32
	ClassID   int32
	Name      string
	Signature string
	StartLine int
	EndLine   int
}

// MethodRegistry maps method signatures to ids.
type MethodRegistry struct {
	mu    sync.RWMutex
	bySig map[string]int32
	byID  []MethodInformation
}

// NewMethodRegistry returns an empty registry.
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{bySig: make(map[string]int32)}
}

// Record returns the id of the method with the given signature, registering
// it on first sight. Later calls with the same signature return the first id
// and leave the stored information untouched.
func (r *MethodRegistry) Record(classID int32, name, signature string, startLine, endLine int) (int32, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(signature) == "" {
		return 0, ErrInvalidMethod
	}
	r.mu.RLock()
	id, ok := r.bySig[signature]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.bySig[signature]; ok {
		return id, nil
	}
	id = int32(len(r.byID))
	r.byID = append(r.byID, MethodInformation{
		ID:        id,
		ClassID:   classID,
		Name:      name,
		Signature: signature,
		StartLine: startLine,
		EndLine:   endLine,
	})
	r.bySig[signature] = id
	return id, nil
}

// Lookup returns the information registered under id.
func (r *MethodRegistry) Lookup(id int32) (MethodInformation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || int(id) >= len(r.byID) {
		return MethodInformation{}, false
	}
	return r.byID[id], true
}

// Len returns the number of registered methods.
func (r *MethodRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
