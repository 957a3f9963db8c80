// Package safety classifies sanitized source before it is allowed to run.
//
// The checks are textual: they look for substrings of the source, not at its
// syntax tree. Legitimate code that happens to contain a denied word is rejected
// and obfuscated code can slip through. Callers depend on the Filter interface so
// a stricter implementation can replace Denylist without touching the pipeline.
package safety

import (
	"fmt"
	"strings"
)

type Category string

const (
	CategoryNone        Category = ""
	CategoryProcess     Category = "out_of_process"
	CategoryConcurrency Category = "concurrency"
	CategoryNetwork     Category = "network"
	CategoryFilesystem  Category = "filesystem"
	CategoryImport      Category = "import"
	CategoryOperation   Category = "operation"
)

type Verdict struct {
	Allowed  bool
	Category Category
	Message  string
}

func Allow() Verdict { return Verdict{Allowed: true} }

func Reject(cat Category, msg string) Verdict {
	return Verdict{Category: cat, Message: msg}
}

type Filter interface {
	Classify(code string) Verdict
}

const hint = "Please only use this bot to evaluate basic expressions and print the result."

var (
	MsgProcess     = "This bot does not allow code to run out of process. " + hint
	MsgConcurrency = "This bot does not allow multi-threaded or asynchronous operations. " + hint
	MsgNetwork     = "This bot does not allow networking code. " + hint
	MsgFilesystem  = "This bot does not permit access to the host file system. " + hint
)

// term is one denied substring. Fold matches against the lowercased source.
type term struct {
	text string
	fold bool
}

func (t term) in(code, lower string) bool {
	if t.fold {
		return strings.Contains(lower, t.text)
	}
	return strings.Contains(code, t.text)
}

type rule struct {
	category Category
	message  string
	terms    []term
}

var rules = []rule{
	{CategoryProcess, MsgProcess, []term{
		{text: "Process"}, {text: "Task"},
	}},
	{CategoryConcurrency, MsgConcurrency, []term{
		{text: "Dispatch"}, {text: "Queue"}, {text: "Operation"}, {text: "Notification"},
		{text: "thread", fold: true}, {text: "async"},
	}},
	{CategoryNetwork, MsgNetwork, []term{
		{text: "Host"}, {text: "Request"}, {text: "URL"}, {text: "Application"}, {text: "Delegate"},
		{text: "ipaddress", fold: true},
	}},
	{CategoryFilesystem, MsgFilesystem, []term{
		{text: "File"}, {text: "UserDefaults"}, {text: "System"}, {text: "Pasteboard"},
		{text: "path", fold: true},
	}},
}

// UnsafeOperations are checked last; the first one found is named in the message.
var UnsafeOperations = []string{
	"NSC", "CF", "kill", "exit", "terminate", "delete", "execute", "launch", "chmod",
	"\nsh ", "\rsh ", "\tsh ", " sh ", "sleep", "echo", "Unsafe", "unsafe",
}

var foreignToolkits = []string{"Cocoa", "AppKit"}

// Denylist is the default Filter. AllowedLibrary is the only module an import
// line may name.
type Denylist struct {
	AllowedLibrary string
}

func NewDenylist(allowedLibrary string) *Denylist {
	if allowedLibrary == "" {
		allowedLibrary = "Foundation"
	}
	return &Denylist{AllowedLibrary: allowedLibrary}
}

// Classify evaluates the categories in order and stops at the first match.
func (d *Denylist) Classify(code string) Verdict {
	lower := strings.ToLower(code)

	for _, r := range rules {
		for _, t := range r.terms {
			if t.in(code, lower) {
				return Reject(r.category, r.message)
			}
		}
	}

	if d.foreignImport(code) {
		return Reject(CategoryImport,
			fmt.Sprintf("This bot does not allow importing frameworks other than %s.", d.library()))
	}

	for _, op := range UnsafeOperations {
		if strings.Contains(code, op) {
			return Reject(CategoryOperation, fmt.Sprintf(
				"One or more operations in your code were not permitted. %s [%s]", hint, op))
		}
	}

	return Allow()
}

func (d *Denylist) foreignImport(code string) bool {
	lib := d.library()
	for _, line := range strings.Split(code, "\n") {
		if strings.HasPrefix(line, "import") && !strings.Contains(line, lib) {
			return true
		}
	}
	for _, tk := range foreignToolkits {
		if strings.Contains(code, tk) {
			return true
		}
	}
	return false
}

func (d *Denylist) library() string {
	if d.AllowedLibrary == "" {
		return "Foundation"
	}
	return d.AllowedLibrary
}
