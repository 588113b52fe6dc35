// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package sqlite

import "time"

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
