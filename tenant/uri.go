// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package tenant

import (
	"fmt"
	"strings"
)

// HostnameFromURI extracts the first host from a MongoDB connection string
// for display purposes, dropping scheme, credentials, options and any
// additional replica-set hosts.
func HostnameFromURI(uri string) (string, error) {
	rest := uri
	switch {
	case strings.HasPrefix(rest, "mongodb+srv://"):
		rest = strings.TrimPrefix(rest, "mongodb+srv://")
	case strings.HasPrefix(rest, "mongodb://"):
		rest = strings.TrimPrefix(rest, "mongodb://")
	default:
		return "", fmt.Errorf("invalid MongoDB connection string")
	}

	// Strip credentials if present.
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}

	// Everything before the first path or query component.
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}

	// Replica sets list multiple hosts; keep the first.
	host, _, _ := strings.Cut(rest, ",")
	if host == "" {
		return "", fmt.Errorf("invalid MongoDB connection string")
	}

	return host, nil
}
