// Package language holds the static table of supported languages: which image
// runs them, how their source file is named and which shell commands build and
// run them.
//
// The table is assembled once at startup and never mutated afterwards, so it is
// shared by every request without locking.
package language

import (
	"regexp"
	"strings"
	"time"
)

// NamingRule decides how the source file inside the workspace is named.
type NamingRule int

const (
	// FixedName always uses Profile.FixedName.
	FixedName NamingRule = iota
	// PublicClassName names the file after the first public class declared in
	// the source (Java requires Foo.java to declare public class Foo).
	PublicClassName
)

// Profile describes how to build and run one language.
//
// Templates are shell fragments with two placeholders:
//
//	{file} → the source file name, e.g. "Main.java"
//	{name} → the file name without extension, e.g. "Main"
type Profile struct {
	ID              string
	DisplayName     string
	Image           string
	Extension       string // with leading dot: ".py"
	NamingRule      NamingRule
	FixedName       string // used by FixedName
	FallbackName    string // used by PublicClassName when no class is found
	CompileTemplate string // empty for interpreted languages
	RunTemplate     string
	DefaultTimeout  time.Duration
}

// Compiled reports whether the language has a build step.
func (p Profile) Compiled() bool {
	return p.CompileTemplate != ""
}

// FileName returns the name the source must be written under.
// It never fails: malformed source simply falls back to the default name and
// the compiler reports the real problem.
func (p Profile) FileName(code string) string {
	if p.NamingRule == PublicClassName {
		if name, ok := ExtractPublicClass(code); ok {
			return name + p.Extension
		}
		return p.FallbackName + p.Extension
	}
	return p.FixedName
}

// CompileCommand renders the compile template for fileName ("" if interpreted).
func (p Profile) CompileCommand(fileName string) string {
	return render(p.CompileTemplate, fileName)
}

// RunCommand renders the run template for fileName.
func (p Profile) RunCommand(fileName string) string {
	return render(p.RunTemplate, fileName)
}

func render(tmpl, fileName string) string {
	if tmpl == "" {
		return ""
	}
	name := strings.TrimSuffix(fileName, fileExt(fileName))
	return strings.NewReplacer("{file}", shellQuote(fileName), "{name}", shellQuote(name)).Replace(tmpl)
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// shellQuote single-quotes s unless it is made only of characters sh leaves
// alone. Java class names may contain '$'.
func shellQuote(s string) string {
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func fileExt(fileName string) string {
	if i := strings.LastIndexByte(fileName, '.'); i > 0 {
		return fileName[i:]
	}
	return ""
}

// Builtin returns the default language table in display order.
func Builtin() []Profile {
	return []Profile{
		{
			ID:             "python",
			DisplayName:    "Python",
			Image:          "python:3.12-alpine",
			Extension:      ".py",
			NamingRule:     FixedName,
			FixedName:      "code.py",
			RunTemplate:    "python3 -u {file}",
			DefaultTimeout: 10 * time.Second,
		},
		{
			ID:             "javascript",
			DisplayName:    "JavaScript",
			Image:          "node:20-alpine",
			Extension:      ".js",
			NamingRule:     FixedName,
			FixedName:      "code.js",
			RunTemplate:    "node {file}",
			DefaultTimeout: 10 * time.Second,
		},
		{
			ID:              "java",
			DisplayName:     "Java",
			Image:           "eclipse-temurin:17-jdk-alpine",
			Extension:       ".java",
			NamingRule:      PublicClassName,
			FallbackName:    "Main",
			CompileTemplate: "javac -J-Xmx96m {file}",
			RunTemplate:     "java -Xmx96m -cp . {name}",
			DefaultTimeout:  20 * time.Second,
		},
		{
			ID:              "csharp",
			DisplayName:     "C#",
			Image:           "mono:6.12",
			Extension:       ".cs",
			NamingRule:      FixedName,
			FixedName:       "code.cs",
			CompileTemplate: "mcs -out:{name}.exe {file}",
			RunTemplate:     "mono {name}.exe",
			DefaultTimeout:  20 * time.Second,
		},
		{
			ID:              "cpp",
			DisplayName:     "C++",
			Image:           "gcc:13",
			Extension:       ".cpp",
			NamingRule:      FixedName,
			FixedName:       "main.cpp",
			CompileTemplate: "g++ -std=c++17 -O2 -o main {file}",
			RunTemplate:     "./main",
			DefaultTimeout:  15 * time.Second,
		},
	}
}
