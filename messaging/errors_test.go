// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatrixError(t *testing.T) {
	notFound := &MatrixError{Code: ErrCodeNotFound, Message: "no alias", StatusCode: 404}
	wrapped := fmt.Errorf("resolving: %w", notFound)

	if !IsMatrixError(wrapped, ErrCodeNotFound) {
		t.Error("wrapped M_NOT_FOUND not detected")
	}
	if IsMatrixError(wrapped, ErrCodeForbidden) {
		t.Error("M_NOT_FOUND matched M_FORBIDDEN")
	}
	if IsMatrixError(errors.New("dial tcp: timeout"), ErrCodeNotFound) {
		t.Error("plain error matched a Matrix code")
	}
	if IsMatrixError(nil, ErrCodeNotFound) {
		t.Error("nil matched a Matrix code")
	}
}

func TestMatrixErrorString(t *testing.T) {
	err := &MatrixError{Code: ErrCodeForbidden, Message: "user is already in the room", StatusCode: 403}
	want := "matrix: M_FORBIDDEN (403): user is already in the room"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
