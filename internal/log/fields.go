package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldDomain     = "domain"
	FieldKind       = "kind"
	FieldEntityID   = "entity_id"
	FieldGeneration = "generation"
	FieldBatchID    = "batch_id"
	FieldStatus     = "status"
	FieldUsername   = "username"
	FieldBackend    = "backend"
	FieldSheetsRef  = "sheets_ref"
	FieldEventID    = "event_id"
)

// Components defines standard component names
const (
	ComponentApp          = "app"
	ComponentHTTP         = "http"
	ComponentTransport    = "transport"
	ComponentSession      = "session"
	ComponentRepository   = "repository"
	ComponentOrchestrator = "orchestrator"
	ComponentStorage      = "storage"
	ComponentCache        = "cache"
	ComponentAMQP         = "amqp"
	ComponentWorker       = "worker"
	ComponentSheets       = "sheets"
)

// Operations defines standard operation names
const (
	OpLogin    = "login"
	OpRegister = "register"
	OpLogout   = "logout"
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpReload   = "reload"
	OpPublish  = "publish"
	OpAppend   = "append"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithDomain adds the backend domain and entity kind.
func (f LogFields) WithDomain(domain, kind string) LogFields {
	f[FieldDomain] = domain
	if kind != "" {
		f[FieldKind] = kind
	}
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
