// Copyright 2026 The Cmdgate Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"path/filepath"
	"strings"
)

// TokenKind classifies a lexed token.
type TokenKind int

const (
	// TokenCommand is the first non-operator token of a segment.
	TokenCommand TokenKind = iota

	// TokenArgument is any non-operator token after the command.
	TokenArgument

	// TokenOperator is a chain or pipe operator: &&, ||, ;, |.
	TokenOperator

	// TokenRedirect is > or >>. Redirect targets are tagged but not
	// interpreted as write targets by the validator.
	TokenRedirect
)

// Token is one lexed unit of a command line.
type Token struct {
	// Value is the resolved form: quotes stripped, escapes applied,
	// variables and tilde expanded.
	Value string

	// Original is the lexeme as written, quotes and escapes intact.
	Original string

	Kind TokenKind
}

// CommandSegment is one command between chain/pipe operators.
type CommandSegment struct {
	Command string
	Args    []string

	// Operator is the operator that follows this segment ("" on the last).
	Operator string
}

// ParsedCommand is the tokenizer's output: the structured view of one raw
// command line that the rule engine validates.
type ParsedCommand struct {
	Original   string
	Normalized string
	Tokens     []Token
	Segments   []CommandSegment
	IsChained  bool
	IsPiped    bool
}

// Placeholder bytes for escaped characters. They survive quote-aware
// splitting (an escaped space must not become a token boundary) and are
// restored afterwards. NUL and friends cannot appear in a shell command
// line, so the substitution is unambiguous.
const (
	escSpace     = '\x00'
	escSingle    = '\x01'
	escDouble    = '\x02'
	escBackslash = '\x03'
)

// Tokenize turns a raw command string into a ParsedCommand. Identical input
// plus an identical Env always yields an identical result.
func Tokenize(raw string, env Env) ParsedCommand {
	parsed := ParsedCommand{Original: raw}

	prepared := substituteEscapes(raw)
	lexemes := splitLexemes(prepared)
	if len(lexemes) == 0 {
		return parsed
	}

	tokens := make([]Token, 0, len(lexemes))
	atCommand := true
	for _, lx := range lexemes {
		tok := resolveLexeme(lx, env)
		switch tok.Kind {
		case TokenOperator:
			atCommand = true
		case TokenRedirect:
			// keep kind as-is
		default:
			if atCommand {
				tok.Kind = TokenCommand
				atCommand = false
			} else {
				tok.Kind = TokenArgument
			}
		}
		tokens = append(tokens, tok)
	}

	parsed.Tokens = tokens
	parsed.Segments = buildSegments(tokens)

	values := make([]string, len(tokens))
	for i, t := range tokens {
		values[i] = t.Value
	}
	parsed.Normalized = strings.Join(values, " ")

	for _, seg := range parsed.Segments {
		switch seg.Operator {
		case "|":
			parsed.IsPiped = true
		case "&&", "||", ";":
			parsed.IsChained = true
		}
	}

	return parsed
}

// substituteEscapes performs the single left-to-right escape scan, replacing
// each backslash escape with a placeholder byte.
func substituteEscapes(raw string) string {
	if !strings.ContainsRune(raw, '\\') {
		return raw
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			b.WriteByte(raw[i])
			continue
		}
		switch raw[i+1] {
		case ' ':
			b.WriteByte(escSpace)
		case '\'':
			b.WriteByte(escSingle)
		case '"':
			b.WriteByte(escDouble)
		case '\\':
			b.WriteByte(escBackslash)
		default:
			b.WriteByte(raw[i])
			continue
		}
		i++
	}
	return b.String()
}

// lexeme is a raw token before quote stripping and expansion.
type lexeme struct {
	text string
	kind TokenKind
}

// splitLexemes splits on unquoted whitespace and unquoted operator lexemes.
// Operators are recognized in order: &&, ||, | (not followed by |), ;.
// Quote state suppresses all operator and space recognition.
func splitLexemes(s string) []lexeme {
	var out []lexeme
	var cur strings.Builder
	inSingle := false
	inDouble := false

	flush := func() {
		if cur.Len() > 0 {
			out = append(out, lexeme{text: cur.String(), kind: TokenArgument})
			cur.Reset()
		}
	}

	i := 0
	for i < len(s) {
		ch := s[i]

		if ch == '\'' && !inDouble {
			inSingle = !inSingle
			cur.WriteByte(ch)
			i++
			continue
		}
		if ch == '"' && !inSingle {
			inDouble = !inDouble
			cur.WriteByte(ch)
			i++
			continue
		}
		if inSingle || inDouble {
			cur.WriteByte(ch)
			i++
			continue
		}

		if ch == ' ' || ch == '\t' || ch == '\n' {
			flush()
			i++
			continue
		}

		if i+1 < len(s) {
			two := s[i : i+2]
			if two == "&&" || two == "||" {
				flush()
				out = append(out, lexeme{text: two, kind: TokenOperator})
				i += 2
				continue
			}
			if two == ">>" {
				flush()
				out = append(out, lexeme{text: two, kind: TokenRedirect})
				i += 2
				continue
			}
		}
		if ch == '|' || ch == ';' {
			flush()
			out = append(out, lexeme{text: string(ch), kind: TokenOperator})
			i++
			continue
		}
		if ch == '>' {
			flush()
			out = append(out, lexeme{text: ">", kind: TokenRedirect})
			i++
			continue
		}

		cur.WriteByte(ch)
		i++
	}
	flush()
	return out
}

// resolveLexeme strips quotes, restores escape placeholders, and expands
// variables, tilde, and relative path prefixes in the token value.
func resolveLexeme(lx lexeme, env Env) Token {
	tok := Token{Kind: lx.kind, Original: restoreOriginal(lx.text)}

	if lx.kind == TokenOperator || lx.kind == TokenRedirect {
		tok.Value = lx.text
		return tok
	}

	value := stripQuotes(lx.text)
	value = restoreValue(value)
	value = expandVars(value, env)
	value = expandTilde(value, env)
	value = resolveRelative(value, env)
	tok.Value = value
	return tok
}

func stripQuotes(s string) string {
	var b strings.Builder
	inSingle := false
	inDouble := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'' && !inDouble:
			inSingle = !inSingle
		case s[i] == '"' && !inSingle:
			inDouble = !inDouble
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func restoreValue(s string) string {
	r := strings.NewReplacer(
		string(escSpace), " ",
		string(escSingle), "'",
		string(escDouble), `"`,
		string(escBackslash), `\`,
	)
	return r.Replace(s)
}

func restoreOriginal(s string) string {
	r := strings.NewReplacer(
		string(escSpace), `\ `,
		string(escSingle), `\'`,
		string(escDouble), `\"`,
		string(escBackslash), `\\`,
	)
	return r.Replace(s)
}

// resolveRelative resolves tokens beginning with "./" or "../" against the
// working directory.
func resolveRelative(s string, env Env) string {
	if !strings.HasPrefix(s, "./") && !strings.HasPrefix(s, "../") {
		return s
	}
	wd := env.Workdir()
	if wd == "" {
		return s
	}
	return filepath.Join(wd, s)
}

// buildSegments derives command segments from the token stream. Each
// operator is a hard boundary; the first token after a boundary becomes the
// new segment's command. Redirect tokens and their targets stay within the
// current segment's argument list.
func buildSegments(tokens []Token) []CommandSegment {
	var segments []CommandSegment
	var cur *CommandSegment

	for _, tok := range tokens {
		if tok.Kind == TokenOperator {
			if cur != nil {
				cur.Operator = tok.Value
				segments = append(segments, *cur)
				cur = nil
			}
			continue
		}
		if cur == nil {
			cur = &CommandSegment{Command: tok.Value}
			continue
		}
		cur.Args = append(cur.Args, tok.Value)
	}
	if cur != nil {
		segments = append(segments, *cur)
	}
	return segments
}

// Text renders a segment back to a flat command string.
func (s CommandSegment) Text() string {
	if len(s.Args) == 0 {
		return s.Command
	}
	return s.Command + " " + strings.Join(s.Args, " ")
}
