// Package rule compiles glob-like path rules into path filters.
//
// Each rule is one line of text:
//
//	*.go          include any .go file, at any depth
//	./main.go     include main.go at the root only
//	!vendor/      exclude the vendor directory and everything below it
//	+vendor/x.go  keep vendor/x.go even though vendor/ is excluded
//	src/**/*.js   `**` crosses directory separators, `*` does not
//
// A path is accepted when it matches at least one include rule and either
// matches no exclude rule or matches a force-include (`+`) rule.
//
// The rule language is a stable format shared with other implementations;
// changes to translation must keep existing rule files meaning the same thing.
package rule
