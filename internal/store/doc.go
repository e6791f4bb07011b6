// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package store defines named cache partitions holding HTTP responses, the
// entry type they hold, and the YAML codec shared by the persistent backends
// in the memory, file and s3 subpackages.
package store
