package embedding

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// CLIP special tokens.
const (
	StartOfText   = "<|startoftext|>"
	EndOfText     = "<|endoftext|>"
	StartOfTextID = 49406
	EndOfTextID   = 49407
	// maxMerges is the number of BPE merges CLIP uses from merges.txt.
	maxMerges = 49152 - 256 - 2
)

// Tokenizer produces CLIP text-model inputs (input_ids, attention_mask) of
// exactly contextLength entries.
type Tokenizer interface {
	Tokenize(text string, contextLength int) (inputIDs, attentionMask []int64)
}

// frame wraps token ids with start/end markers, truncates keeping the end
// marker, and pads with the end marker under a zero mask.
func frame(tokens []int64, contextLength int) (inputIDs, attentionMask []int64) {
	if contextLength < 2 {
		contextLength = 2
	}
	inputIDs = make([]int64, contextLength)
	attentionMask = make([]int64, contextLength)

	n := min(len(tokens), contextLength-2)
	inputIDs[0] = StartOfTextID
	copy(inputIDs[1:], tokens[:n])
	inputIDs[n+1] = EndOfTextID
	for i := 0; i < n+2; i++ {
		attentionMask[i] = 1
	}
	for i := n + 2; i < contextLength; i++ {
		inputIDs[i] = EndOfTextID
	}
	return inputIDs, attentionMask
}

// HashTokenizer is a word-split tokenizer with hash-based token IDs (for testing or fallback).
type HashTokenizer struct{}

// Tokenize splits text into lower-cased words and maps each to a hashed id.
func (t *HashTokenizer) Tokenize(text string, contextLength int) (inputIDs, attentionMask []int64) {
	words := SplitWords(strings.ToLower(text))
	tokens := make([]int64, len(words))
	for i, word := range words {
		tokens[i] = int64(HashString(word) % StartOfTextID)
	}
	return frame(tokens, contextLength)
}

// CLIPTokenizer is the byte-level BPE tokenizer used by CLIP text encoders.
type CLIPTokenizer struct {
	encoder     map[string]int64
	ranks       map[[2]string]int
	byteEncoder [256]string
	pattern     *regexp.Regexp
	cache       sync.Map
}

// clipPattern splits cleaned text into pre-tokens.
var clipPattern = regexp.MustCompile(`(?i)<\|startoftext\|>|<\|endoftext\|>|'s|'t|'re|'ve|'m|'ll|'d|[\p{L}]+|[\p{N}]|[^\s\p{L}\p{N}]+`)

// LoadCLIPTokenizer reads vocab.json and merges.txt.
func LoadCLIPTokenizer(vocabPath, mergesPath string) (*CLIPTokenizer, error) {
	vocabData, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	if !gjson.ValidBytes(vocabData) {
		return nil, fmt.Errorf("vocab %s is not valid JSON", vocabPath)
	}
	encoder := make(map[string]int64)
	gjson.ParseBytes(vocabData).ForEach(func(key, value gjson.Result) bool {
		encoder[key.String()] = value.Int()
		return true
	})
	if len(encoder) == 0 {
		return nil, fmt.Errorf("vocab %s is empty", vocabPath)
	}

	f, err := os.Open(mergesPath)
	if err != nil {
		return nil, fmt.Errorf("read merges: %w", err)
	}
	defer f.Close()
	merges, err := readMerges(f)
	if err != nil {
		return nil, fmt.Errorf("read merges: %w", err)
	}

	return newCLIPTokenizer(encoder, merges), nil
}

func readMerges(r io.Reader) ([][2]string, error) {
	var merges [][2]string
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if first {
			first = false
			if strings.HasPrefix(line, "#version") {
				continue
			}
		}
		if line == "" {
			continue
		}
		a, b, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("malformed merge %q", line)
		}
		merges = append(merges, [2]string{a, b})
		if len(merges) == maxMerges {
			break
		}
	}
	return merges, sc.Err()
}

func newCLIPTokenizer(encoder map[string]int64, merges [][2]string) *CLIPTokenizer {
	t := &CLIPTokenizer{
		encoder: encoder,
		ranks:   make(map[[2]string]int, len(merges)),
		pattern: clipPattern,
	}
	for i, m := range merges {
		if _, dup := t.ranks[m]; !dup {
			t.ranks[m] = i
		}
	}
	t.byteEncoder = bytesToUnicode()
	return t
}

// Tokenize lower-cases and whitespace-cleans text, then applies BPE.
func (t *CLIPTokenizer) Tokenize(text string, contextLength int) (inputIDs, attentionMask []int64) {
	return frame(t.Encode(text), contextLength)
}

// Encode returns the BPE token ids of text without start/end markers.
func (t *CLIPTokenizer) Encode(text string) []int64 {
	text = strings.ToLower(strings.Join(strings.Fields(text), " "))
	var ids []int64
	for _, piece := range t.pattern.FindAllString(text, -1) {
		if piece == StartOfText || piece == EndOfText {
			ids = append(ids, t.encoder[piece])
			continue
		}
		var sb strings.Builder
		for _, b := range []byte(piece) {
			sb.WriteString(t.byteEncoder[b])
		}
		for _, tok := range t.bpe(sb.String()) {
			id, ok := t.encoder[tok]
			if !ok {
				id = EndOfTextID
			}
			ids = append(ids, id)
		}
	}
	return ids
}

// bpe merges the characters of token (with "</w>" on the last one) by rank.
func (t *CLIPTokenizer) bpe(token string) []string {
	if cached, ok := t.cache.Load(token); ok {
		return cached.([]string)
	}

	runes := []rune(token)
	word := make([]string, len(runes))
	for i, r := range runes {
		word[i] = string(r)
	}
	if len(word) == 0 {
		return nil
	}
	word[len(word)-1] += "</w>"

	for len(word) > 1 {
		best, bestRank := -1, math.MaxInt
		for i := 0; i < len(word)-1; i++ {
			if r, ok := t.ranks[[2]string{word[i], word[i+1]}]; ok && r < bestRank {
				best, bestRank = i, r
			}
		}
		if best < 0 {
			break
		}
		first, second := word[best], word[best+1]
		merged := make([]string, 0, len(word))
		for i := 0; i < len(word); {
			if i < len(word)-1 && word[i] == first && word[i+1] == second {
				merged = append(merged, first+second)
				i += 2
				continue
			}
			merged = append(merged, word[i])
			i++
		}
		word = merged
	}

	t.cache.Store(token, word)
	return word
}

// bytesToUnicode maps every byte to a printable rune, as GPT-2 style BPE does.
func bytesToUnicode() [256]string {
	var table [256]string
	assigned := [256]bool{}
	for _, r := range [][2]int{{'!', '~'}, {0xA1, 0xAC}, {0xAE, 0xFF}} {
		for b := r[0]; b <= r[1]; b++ {
			table[b] = string(rune(b))
			assigned[b] = true
		}
	}
	n := 0
	for b := 0; b < 256; b++ {
		if !assigned[b] {
			table[b] = string(rune(256 + n))
			n++
		}
	}
	return table
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	return words
}

// HashString returns a deterministic hash for use as a simple token ID.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
