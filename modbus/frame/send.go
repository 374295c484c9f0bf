// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package frame

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/ffutop/modbus-tool/modbus"
)

// Send finalizes adu with f and writes it to w in a single write. A short
// write is a transport failure. It returns the number of bytes written.
func Send(w io.Writer, f Framer, adu []byte) (int, error) {
	adu = f.Finalize(adu)
	slog.Debug("send", "mode", f.Mode(), "adu", hex.EncodeToString(adu))

	n, err := w.Write(adu)
	if err != nil {
		return n, fmt.Errorf("%w: %v", modbus.ErrTransportFailure, err)
	}
	if n != len(adu) {
		return n, fmt.Errorf("%w: wrote %d of %d bytes", modbus.ErrTransportFailure, n, len(adu))
	}
	return n, nil
}
