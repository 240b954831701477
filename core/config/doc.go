// Package config holds the provider configuration model: the file format
// (YAML, decoded per provider so one bad entry does not sink the rest), the
// compiled-in table of known providers, and the layered merge that produces
// the settings for one model call.
//
// Precedence, lowest to highest: known provider defaults, the provider file,
// model-level overrides. In header and body maps a nil value at a higher
// layer removes the key.
package config
