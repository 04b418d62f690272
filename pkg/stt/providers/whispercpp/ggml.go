package whispercpp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	ggmlMagic       = 0x67676d6c
	maxTokenLength  = 1 << 12
	maxVocabEntries = 1 << 20
	// whisper multilingual models carry 51865 or more tokens
	multilingualVocabSize = 51865
)

// vocabulary is the token table stored in a ggml whisper model file.
type vocabulary struct {
	tokens       []string
	ids          map[string]int
	multilingual bool
}

// readVocabulary validates the ggml header of path and reads its token table.
// The tensor weights are left to whisper-cli.
func readVocabulary(path string) (*vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic uint32
	if err = binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("reading ggml magic: %w", err)
	}
	if magic != ggmlMagic {
		return nil, fmt.Errorf("%s is not a ggml whisper model (magic %#x)", path, magic)
	}

	// n_vocab, audio ctx/state/head/layer, text ctx/state/head/layer, n_mels, ftype
	var hparams [11]int32
	if err = binary.Read(r, binary.LittleEndian, &hparams); err != nil {
		return nil, fmt.Errorf("reading ggml hparams: %w", err)
	}
	nVocab := hparams[0]

	var mel [2]int32
	if err = binary.Read(r, binary.LittleEndian, &mel); err != nil {
		return nil, fmt.Errorf("reading mel filter header: %w", err)
	}
	if mel[0] < 0 || mel[1] < 0 {
		return nil, errors.New("invalid mel filter dimensions")
	}
	if _, err = io.CopyN(io.Discard, r, int64(mel[0])*int64(mel[1])*4); err != nil {
		return nil, fmt.Errorf("skipping mel filters: %w", err)
	}

	var count int32
	if err = binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("reading vocabulary size: %w", err)
	}
	if count < 0 || count > maxVocabEntries {
		return nil, fmt.Errorf("invalid vocabulary size %d", count)
	}

	v := &vocabulary{
		tokens:       make([]string, count),
		ids:          make(map[string]int, count),
		multilingual: nVocab >= multilingualVocabSize,
	}
	for i := range v.tokens {
		var l uint32
		if err = binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, fmt.Errorf("reading token %d: %w", i, err)
		}
		if l > maxTokenLength {
			return nil, fmt.Errorf("token %d is %d bytes long", i, l)
		}
		b := make([]byte, l)
		if _, err = io.ReadFull(r, b); err != nil {
			return nil, fmt.Errorf("reading token %d: %w", i, err)
		}
		v.tokens[i] = string(b)
		if _, dup := v.ids[v.tokens[i]]; !dup {
			v.ids[v.tokens[i]] = i
		}
	}
	return v, nil
}

var (
	nonSpeechSymbols = append(
		strings.Split(`"#()*+/:;<=>@[\]^_`+"`"+`{|}~「」『』`, ""),
		strings.Fields(`<< >> <<< >>> -- --- -( -[ (' (" (( )) ((( ))) [[ ]] {{ }} ♪♪ ♪♪♪`)...,
	)
	musicSymbols = strings.Split("♩♪♫♬♭♮♯", "")
)

// nonSpeechTokens mirrors whisper's suppress_nst list: every symbol that is a
// whole token, with or without a leading space, plus " -" and " '". Music
// symbols span several byte tokens; their first token is suppressed.
func (v *vocabulary) nonSpeechTokens() []int {
	set := make(map[int]struct{})
	add := func(s string) {
		if id, ok := v.ids[s]; ok {
			set[id] = struct{}{}
		}
	}
	addPrefix := func(s string) {
		for n := len(s); n > 0; n-- {
			if id, ok := v.ids[s[:n]]; ok {
				set[id] = struct{}{}
				return
			}
		}
	}

	add(" -")
	add(" '")
	for _, s := range nonSpeechSymbols {
		add(s)
		add(" " + s)
	}
	for _, s := range musicSymbols {
		addPrefix(s)
		addPrefix(" " + s)
	}

	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// regexEscaper escapes ECMAScript metacharacters, the dialect whisper-cli compiles.
var regexEscaper = strings.NewReplacer(
	`\`, `\\`, `^`, `\^`, `$`, `\$`, `.`, `\.`, `|`, `\|`, `?`, `\?`,
	`*`, `\*`, `+`, `\+`, `(`, `\(`, `)`, `\)`, `[`, `\[`, `]`, `\]`,
	`{`, `\{`, `}`, `\}`, `/`, `\/`,
)

// suppressRegex turns token ids into an exact-match alternation for --suppress-regex.
func (v *vocabulary) suppressRegex(ids []int) (string, error) {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if id < 0 {
			continue
		}
		if id >= len(v.tokens) {
			return "", fmt.Errorf("token id %d is outside the model vocabulary (%d tokens)", id, len(v.tokens))
		}
		if v.tokens[id] == "" {
			continue
		}
		parts = append(parts, regexEscaper.Replace(v.tokens[id]))
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "^(" + strings.Join(parts, "|") + ")$", nil
}
