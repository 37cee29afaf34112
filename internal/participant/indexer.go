package participant

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/tokenizer"
)

// Index categories written by SourceIndexer.
const (
	CategoryDecl = "decl"
	CategoryRef  = "ref"
	CategoryWord = "word"
)

// DefaultCategories are searched by query terms that name no category.
var DefaultCategories = []string{CategoryDecl, CategoryRef}

var (
	declCategory = []byte(CategoryDecl)
	refCategory  = []byte(CategoryRef)
	wordCategory = []byte(CategoryWord)
)

// SourceIndexer files declared identifiers under decl, every other
// identifier occurrence under ref and normalised prose words under word.
type SourceIndexer struct {
	// Words disables the word category when false.
	Words bool
}

func (si *SourceIndexer) Index(ctx context.Context, doc *index.Document, idx index.Index) error {
	seen := make(map[string]struct{})
	add := func(category []byte, key string) error {
		k := string(category) + "\x00" + key
		if _, dup := seen[k]; dup {
			return nil
		}
		seen[k] = struct{}{}
		if err := idx.AddEntry(category, []byte(key), doc.Path); err != nil {
			return fmt.Errorf("adding %s entry %q: %w", category, key, err)
		}
		return nil
	}

	for i, id := range tokenizer.Identifiers(doc.Content) {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		category := refCategory
		if id.Decl {
			category = declCategory
		}
		if err := add(category, id.Name); err != nil {
			return err
		}
	}
	if !si.Words {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, tok := range tokenizer.Tokenize(string(doc.Content)) {
		if err := add(wordCategory, tok.Term); err != nil {
			return err
		}
	}
	return nil
}
