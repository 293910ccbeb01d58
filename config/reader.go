package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// AttributeMap is a loosely typed configuration section, as decoded from JSON.
type AttributeMap map[string]interface{}

// Read reads a config from the given file, expanding ${VAR} references from the environment.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", filePath)
	}
	conf, err := FromReader(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid config %q", filePath)
	}
	return conf, nil
}

// FromReader reads a config from r. Environment references are not expanded.
func FromReader(r io.Reader) (*Config, error) {
	var attrs AttributeMap
	if err := json.NewDecoder(r).Decode(&attrs); err != nil {
		return nil, errors.Wrap(err, "cannot parse config JSON")
	}
	return FromAttributes(attrs)
}

// FromAttributes decodes attrs over the defaults and validates the result.
func FromAttributes(attrs AttributeMap) (*Config, error) {
	conf := Default()
	if err := DecodeAttributes(attrs, conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// DecodeAttributes decodes attrs into result by json tag. Keys not matching any field are an
// error.
func DecodeAttributes(attrs AttributeMap, result interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      result,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	return errors.Wrap(decoder.Decode(map[string]interface{}(attrs)), "cannot decode config")
}
