package handle

import "fmt"

// FetchError reports a failed download, including transport and trust errors.
type FetchError struct {
	Tool string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Tool, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// InstallError reports a failed copy of a package into its install directory.
type InstallError struct {
	Tool   string
	Target string
	Err    error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("failed to copy %s to %s: %v", e.Tool, e.Target, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// ValidationError reports a package that is not a handle.exe package.
// It is not fatal: the caller discards the package and fetches again.
type ValidationError struct {
	Path string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is not a valid %s package", e.Path, DisplayName)
}
