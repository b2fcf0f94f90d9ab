// Package beyerr implements the coded, categorised error model BEY uses
// as its error currency: the domain packages return a *BeyError, keeping
// any foreign cause in its Source field (see Wrap), rather than raw error
// values or exceptions. The config package is the exception and returns
// plain fmt.Errorf errors.
package beyerr

import "fmt"

// Category partitions failures by the subsystem that can meaningfully act
// on them, independent of the numeric code range.
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryFileSystem     Category = "filesystem"
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryConfiguration  Category = "configuration"
	CategoryValidation     Category = "validation"
	CategoryEncryption     Category = "encryption"
	CategoryParse          Category = "parse"
	CategorySystem         Category = "system"
	CategoryStorage        Category = "storage"
	CategoryCompression    Category = "compression"
	CategoryNotImplemented Category = "not_implemented"
	CategoryPermission     Category = "permission"
)

// Severity indicates how a failure should propagate to the caller.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Code ranges, one block per component, matching spec.md §4.A.
const (
	CodeIdentityBase    uint32 = 1000
	CodeDiscoveryBase   uint32 = 2100
	CodeTransportBase   uint32 = 2000
	CodePoolBase        uint32 = 3000
	CodePolicyBase      uint32 = 4000
	CodeNetworkEngine   uint32 = 4300
	CodePermissionsBase uint32 = 6000
	CodeStorageBase     uint32 = 5000
	CodeStorageRemote   uint32 = 7000
	CodeTransferBase    uint32 = 7500
	CodeTransferQueue   uint32 = 8000
	CodeVaultBase       uint32 = 9000
)

// BeyError is the module's sole error type.
type BeyError struct {
	Code     uint32
	Message  string
	Category Category
	Severity Severity
	Source   error
}

func (e *BeyError) Error() string {
	if e.Source != nil {
		return fmt.Sprintf("[%d:%s] %s: %v", e.Code, e.Category, e.Message, e.Source)
	}
	return fmt.Sprintf("[%d:%s] %s", e.Code, e.Category, e.Message)
}

func (e *BeyError) Unwrap() error { return e.Source }

// Is reports whether target is a *BeyError with the same Code, so
// errors.Is(err, beyerr.New(CodeX, ...)) style comparisons work on code alone.
func (e *BeyError) Is(target error) bool {
	t, ok := target.(*BeyError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New constructs a BeyError with severity Error.
func New(code uint32, category Category, message string) *BeyError {
	return &BeyError{Code: code, Message: message, Category: category, Severity: SeverityError}
}

// Wrap constructs a BeyError carrying source as its cause.
func Wrap(code uint32, category Category, message string, source error) *BeyError {
	return &BeyError{Code: code, Message: message, Category: category, Severity: SeverityError, Source: source}
}

// WithSeverity returns a copy of e with severity overridden.
func (e *BeyError) WithSeverity(s Severity) *BeyError {
	c := *e
	c.Severity = s
	return &c
}

// Convenience constructors for the most common categories.

func Network(code uint32, msg string, src error) *BeyError {
	return Wrap(code, CategoryNetwork, msg, src)
}

func Authentication(code uint32, msg string, src error) *BeyError {
	return Wrap(code, CategoryAuthentication, msg, src)
}

func Authorization(code uint32, msg string) *BeyError {
	return New(code, CategoryAuthorization, msg)
}

func Permission(code uint32, msg string) *BeyError {
	return New(code, CategoryPermission, msg)
}

func Configuration(code uint32, msg string, src error) *BeyError {
	return Wrap(code, CategoryConfiguration, msg, src)
}

func Validation(code uint32, msg string) *BeyError {
	return New(code, CategoryValidation, msg)
}

func Encryption(code uint32, msg string, src error) *BeyError {
	return Wrap(code, CategoryEncryption, msg, src)
}

func Parse(code uint32, msg string, src error) *BeyError {
	return Wrap(code, CategoryParse, msg, src)
}

func FileSystem(code uint32, msg string, src error) *BeyError {
	return Wrap(code, CategoryFileSystem, msg, src)
}

func Storage(code uint32, msg string, src error) *BeyError {
	return Wrap(code, CategoryStorage, msg, src)
}

func Compression(code uint32, msg string, src error) *BeyError {
	return Wrap(code, CategoryCompression, msg, src)
}

func NotImplemented(code uint32, msg string) *BeyError {
	return New(code, CategoryNotImplemented, msg)
}

func System(code uint32, msg string, src error) *BeyError {
	return Wrap(code, CategorySystem, msg, src)
}
