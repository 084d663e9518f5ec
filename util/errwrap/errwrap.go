// Copyright (C) 2013-2026 the sheepdog-cluster-driver contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package errwrap contains small error composition helpers shared across the
// driver. They exist so call sites don't need to special-case nil errors when
// threading context onto an error or combining independent failures.
package errwrap

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Wrapf annotates err with a formatted message. A nil err passes through
// unchanged so callers can wrap unconditionally.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Append combines reterr and err into a single error, tolerating either (or
// both) being nil. Use it to accumulate independent teardown failures, e.g.
// from Close(), where every failure should surface, not just the first.
func Append(reterr, err error) error {
	if reterr == nil {
		return err
	}
	if err == nil {
		return reterr
	}
	return multierror.Append(reterr, err)
}

// String renders err as a string, returning "" for a nil error instead of
// panicking, so it's safe to use directly in log format strings.
func String(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
