package schema

// InitializeValidator builds a payload validator over an empty format
// registry. The conformed-schema formats live in subpackages that
// import this one, so callers register the formats they ingest
// explicitly; bootstrap wires protobuf and yaml.
func InitializeValidator() *Validator {
	return NewValidator(NewFormatRegistry())
}
