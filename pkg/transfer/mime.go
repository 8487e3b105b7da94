// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package transfer

import "github.com/gabriel-vasile/mimetype"

// detectMIME sniffs a file's media type. Listing is best effort; on any
// error the entry simply carries no type.
func detectMIME(osPath string) string {
	m, err := mimetype.DetectFile(osPath)
	if err != nil {
		return ""
	}
	return m.String()
}
