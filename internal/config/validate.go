// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. Validator instances
// cache struct metadata, so a single instance is reused.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for structural errors (struct
// tags) and cross-field rules. It is called by Load(); a non-nil
// error is fatal at boot.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			// Report the first violation with a readable field path.
			v := verrs[0]
			return fmt.Errorf("%s: failed %q constraint (value %v)", v.Namespace(), v.Tag(), v.Value())
		}
		return err
	}

	// Bounding boxes must parse before the ingest client ships them
	// upstream; reject malformed filters at boot instead.
	if _, err := c.AISStream.BoundingBoxes(); err != nil {
		return fmt.Errorf("AISSTREAM_BBOX: %w", err)
	}

	return nil
}
