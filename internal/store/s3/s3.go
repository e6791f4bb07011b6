// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package s3 is a store.Store in an S3 bucket. A partition is the key prefix
// <prefix>/<name>/ and each entry an object holding the YAML document written
// by store.Encode. A marker object keeps empty partitions listable and claims
// the prefix; prefixes without one are never listed or removed.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/apex/log"
	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/staranto/studiocache/internal/cacheutil"
	"github.com/staranto/studiocache/internal/store"
)

const (
	markerObject = ".partition"
	entrySuffix  = ".yaml"
	// maxDeleteBatch is the DeleteObjects limit per request.
	maxDeleteBatch = 1000
)

// API is the subset of *s3.Client used by the store.
type API interface {
	GetObject(ctx context.Context, params *s3v2.GetObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3v2.PutObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3v2.ListObjectsV2Input, optFns ...func(*s3v2.Options)) (*s3v2.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3v2.DeleteObjectsInput, optFns ...func(*s3v2.Options)) (*s3v2.DeleteObjectsOutput, error)
}

// Store keeps partitions under a prefix of one bucket.
type Store struct {
	api    API
	bucket string
	prefix string

	// opened remembers partitions whose marker has been written by this
	// process so Open does not PUT on every request.
	mu     sync.Mutex
	opened map[string]bool
}

// New returns a Store. prefix may be empty.
func New(api API, bucket, prefix string) *Store {
	return &Store{
		api:    api,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		opened: make(map[string]bool),
	}
}

func (s *Store) root() string {
	if s.prefix == "" {
		return ""
	}
	return s.prefix + "/"
}

func (s *Store) partitionPrefix(name string) string {
	return s.root() + name + "/"
}

// Open implements store.Store.
func (s *Store) Open(ctx context.Context, name string) (store.Partition, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}

	if err := s.claim(ctx, name); err != nil {
		return nil, err
	}
	return &Partition{store: s, name: name}, nil
}

// claim writes the marker object of partition name unless this process
// already has.
func (s *Store) claim(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened[name] {
		return nil
	}
	_, err := s.api.PutObject(ctx, &s3v2.PutObjectInput{
		Bucket: awsv2.String(s.bucket),
		Key:    awsv2.String(s.partitionPrefix(name) + markerObject),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("failed to create partition %s: %w", name, err)
	}
	s.opened[name] = true
	return nil
}

// Keys implements store.Store. S3 lists common prefixes in lexical order.
// Prefixes without a partition marker are skipped.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var names []string
	paginator := s3v2.NewListObjectsV2Paginator(s.api, &s3v2.ListObjectsV2Input{
		Bucket:    awsv2.String(s.bucket),
		Prefix:    awsv2.String(s.root()),
		Delimiter: awsv2.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list partitions: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(awsv2.ToString(cp.Prefix), s.root()), "/")
			if name == "" {
				continue
			}
			ok, err := s.claimed(ctx, name)
			if err != nil {
				return nil, err
			}
			if ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// Delete implements store.Store. A prefix without the partition marker is
// left alone and reported as absent.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	if err := store.ValidateName(name); err != nil {
		return false, err
	}

	s.mu.Lock()
	delete(s.opened, name)
	s.mu.Unlock()

	ok, err := s.claimed(ctx, name)
	if err != nil || !ok {
		return false, err
	}

	keys, err := s.list(ctx, s.partitionPrefix(name))
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return false, nil
	}

	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: awsv2.String(k)})
		}
		out, err := s.api.DeleteObjects(ctx, &s3v2.DeleteObjectsInput{
			Bucket: awsv2.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: awsv2.Bool(true)},
		})
		if err != nil {
			return true, fmt.Errorf("failed to delete partition %s: %w", name, err)
		}
		if out != nil && len(out.Errors) > 0 {
			return true, fmt.Errorf("failed to delete %d objects of partition %s: %s",
				len(out.Errors), name, awsv2.ToString(out.Errors[0].Message))
		}
	}
	log.Debugf("removed partition s3://%s/%s", s.bucket, s.partitionPrefix(name))
	return true, nil
}

// claimed reports whether the marker object of partition name exists.
func (s *Store) claimed(ctx context.Context, name string) (bool, error) {
	_, ok, err := s.get(ctx, s.partitionPrefix(name)+markerObject)
	if err != nil {
		return false, fmt.Errorf("failed to check partition %s: %w", name, err)
	}
	return ok, nil
}

// list returns every object key beneath prefix.
func (s *Store) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3v2.NewListObjectsV2Paginator(s.api, &s3v2.ListObjectsV2Input{
		Bucket: awsv2.String(s.bucket),
		Prefix: awsv2.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, awsv2.ToString(obj.Key))
		}
	}
	return keys, nil
}

// get fetches an object body. ok is false when the object does not exist.
func (s *Store) get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.api.GetObject(ctx, &s3v2.GetObjectInput{
		Bucket: awsv2.String(s.bucket),
		Key:    awsv2.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get S3 object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	return data, true, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// Partition is one key prefix of the bucket.
type Partition struct {
	store *Store
	name  string
}

// Name implements store.Partition.
func (p *Partition) Name() string { return p.name }

func (p *Partition) objectKey(key string) string {
	return path.Join(p.store.root()+p.name, cacheutil.EncodeKey(key)+entrySuffix)
}

// Match implements store.Partition.
func (p *Partition) Match(ctx context.Context, key string) (*store.Entry, bool, error) {
	data, ok, err := p.store.get(ctx, p.objectKey(key))
	if err != nil || !ok {
		return nil, false, err
	}
	_, e, err := store.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Put implements store.Partition.
func (p *Partition) Put(ctx context.Context, key string, e *store.Entry) error {
	data, err := store.Encode(key, e)
	if err != nil {
		return err
	}
	if err := p.store.claim(ctx, p.name); err != nil {
		return err
	}
	_, err = p.store.api.PutObject(ctx, &s3v2.PutObjectInput{
		Bucket:      awsv2.String(p.store.bucket),
		Key:         awsv2.String(p.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: awsv2.String("application/yaml"),
	})
	if err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}

// Keys implements store.Partition.
func (p *Partition) Keys(ctx context.Context) ([]string, error) {
	objects, err := p.store.list(ctx, p.store.partitionPrefix(p.name))
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, obj := range objects {
		if !strings.HasSuffix(obj, entrySuffix) {
			continue
		}
		data, ok, err := p.store.get(ctx, obj)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		key, _, err := store.Decode(data)
		if err != nil {
			log.WithError(err).Warnf("skipping unreadable cache entry %s", obj)
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}
