// Package syncbus carries small JSON blobs between the contexts that share
// a map: the gesture pipeline, browser windows and other processes. Every
// key keeps its latest value, and subscribers see each publish.
package syncbus

import (
	"context"
	"errors"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Well-known keys.
const (
	KeyGrid     = "gridData"
	KeyViewport = "viewport"
	KeyTrips    = "trips"
)

// ErrNoValue is returned by Latest for a key that was never published.
var ErrNoValue = errors.New("syncbus: no value")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("syncbus: closed")

// Message is one publish.
type Message struct {
	Key   string              `json:"key"`
	Value jsoniter.RawMessage `json:"value"`
	// Origin identifies the bus instance that published, so a context can
	// skip its own echoes.
	Origin string `json:"origin"`
}

// Bus is a keyed publish/subscribe channel.
type Bus interface {
	// Publish stores value as the latest for key and delivers it to
	// subscribers. value must be valid JSON.
	Publish(ctx context.Context, key string, value []byte) error
	// PublishAs is Publish with an explicit origin, for relaying publishes
	// made by another context such as a browser window.
	PublishAs(ctx context.Context, origin, key string, value []byte) error
	// Subscribe delivers publishes for key, or for every key when key is
	// empty. The returned func stops the subscription and closes the
	// channel.
	Subscribe(key string) (<-chan Message, func())
	// Latest returns the last value published for key.
	Latest(ctx context.Context, key string) ([]byte, error)
	// ID is the origin stamped on this bus's publishes.
	ID() string
	Close() error
}

// validJSON reports whether value holds exactly one JSON value, scalars
// included.
func validJSON(value []byte) bool {
	// The trailing space lets a complete value end without reaching EOF,
	// so io.EOF during Skip always means truncated input.
	buf := make([]byte, 0, len(value)+1)
	buf = append(append(buf, value...), ' ')

	iter := json.BorrowIterator(buf)
	defer json.ReturnIterator(iter)
	if iter.WhatIsNext() == jsoniter.InvalidValue {
		return false
	}
	iter.Skip()
	if iter.Error != nil {
		return false
	}
	if iter.WhatIsNext() != jsoniter.InvalidValue {
		return false
	}
	return errors.Is(iter.Error, io.EOF)
}

// PublishJSON marshals v and publishes it.
func PublishJSON(ctx context.Context, b Bus, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Publish(ctx, key, data)
}

// LatestJSON unmarshals the latest value of key into v.
func LatestJSON(ctx context.Context, b Bus, key string, v interface{}) error {
	data, err := b.Latest(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
