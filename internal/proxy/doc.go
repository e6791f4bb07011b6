// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package proxy is the HTTP front for the interceptor. Every request is
// rebuilt against the origin and offered to the interceptor; requests it does
// not intercept are reverse proxied to the origin unchanged.
package proxy
