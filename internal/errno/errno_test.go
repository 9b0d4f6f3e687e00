// Copyright 2026 The vmkern Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errno

import (
	"errors"
	"testing"
)

func TestErrorString(t *testing.T) {
	if got := ENOMEM.Error(); got != "ENOMEM" {
		t.Fatalf("ENOMEM.Error() = %q, want %q", got, "ENOMEM")
	}
	if got := Errno(-999).Error(); got != "errno(-999)" {
		t.Fatalf("unknown errno formatted as %q", got)
	}
}

func TestIs(t *testing.T) {
	var err error = EINVAL
	if !errors.Is(err, EINVAL) {
		t.Fatalf("errors.Is should match identical Errno values")
	}
	if errors.Is(err, ENOMEM) {
		t.Fatalf("errors.Is matched a different Errno value")
	}
}

func TestToErrno(t *testing.T) {
	if ToErrno(nil) != 0 {
		t.Fatalf("ToErrno(nil) should be 0")
	}
	if ToErrno(EACCES) != EACCES {
		t.Fatalf("ToErrno should pass through an existing Errno unchanged")
	}
	if ToErrno(errors.New("boom")) != EFAULT {
		t.Fatalf("ToErrno should default foreign errors to EFAULT")
	}
}
