package text_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/book-expert/narration-service/internal/text"
)

// preprocessorTestCase defines a standard test case for the preprocessor.
type preprocessorTestCase struct {
	name     string
	input    string
	expected string
}

func runPreprocessorTests(t *testing.T, tests []preprocessorTestCase) {
	t.Helper()

	preprocessor := text.NewPreprocessor()

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, preprocessor.PreprocessText(testCase.input))
		})
	}
}

func TestPreprocessor_PreprocessText_EmptyInput(t *testing.T) {
	t.Parallel()

	runPreprocessorTests(t, []preprocessorTestCase{
		{name: "empty", input: "", expected: ""},
		{name: "whitespace", input: " \n\t ", expected: ""},
		{name: "only references", input: "[1] [2]", expected: ""},
		{name: "only delimiters", input: "** **", expected: ""},
	})
}

func TestPreprocessor_PreprocessText_AbbreviationExpansion(t *testing.T) {
	t.Parallel()

	runPreprocessorTests(t, []preprocessorTestCase{
		{name: "Mr expansion", input: "Mr. Smith", expected: "Mister Smith."},
		{name: "Dr expansion", input: "Dr. Johnson", expected: "Doctor Johnson."},
		{name: "Multiple abbreviations", input: "Mr. and Mrs. Smith", expected: "Mister and Misses Smith."},
		{name: "Inc. expansion", input: "Future Tech Inc.", expected: "Future Tech Incorporated."},
		{name: "Latin abbreviation", input: "Use a tool, e.g. a hammer.", expected: "Use a tool, for example a hammer."},
	})
}

func TestPreprocessor_PreprocessText_NumberNormalization(t *testing.T) {
	t.Parallel()

	runPreprocessorTests(t, []preprocessorTestCase{
		{name: "Single digit number", input: "There are 3 cars.", expected: "There are three cars."},
		{name: "Teen number", input: "I have 17 friends.", expected: "I have seventeen friends."},
		{name: "Two-digit number", input: "The answer is 42.", expected: "The answer is forty two."},
		{name: "Hundred number", input: "He has 100 dollars.", expected: "He has one hundred dollars."},
		{
			name:     "Complex hundred number",
			input:    "The building is 356 feet tall.",
			expected: "The building is three hundred fifty six feet tall.",
		},
		{name: "Thousand number", input: "About 5000 people attended.", expected: "About five thousand people attended."},
		{
			name:     "Teen thousands",
			input:    "It holds 12345 rows.",
			expected: "It holds twelve thousand three hundred forty five rows.",
		},
		{
			name:     "Maximum number",
			input:    "The max value is 999999.",
			expected: "The max value is nine hundred ninety nine thousand nine hundred ninety nine.",
		},
		{name: "Number over the limit", input: "A million is 1000000.", expected: "A million is 1000000."},
		{name: "Zero", input: "Count from 0", expected: "Count from zero."},
	})
}

func TestPreprocessor_PreprocessText_TokenPreservation(t *testing.T) {
	t.Parallel()

	runPreprocessorTests(t, []preprocessorTestCase{
		{
			name:     "URL only",
			input:    "Please visit https://example.com/path?id=42 for more info.",
			expected: "Please visit https://example.com/path?id=42 for more info.",
		},
		{
			name:     "Email only",
			input:    "Contact us at support@example.org.",
			expected: "Contact us at support@example.org.",
		},
		{
			name:     "URL and Email mixed with other processing",
			input:    "Mr. Doe's site is http://johndoe.com, email him at john.doe@email.com for 1 copy.",
			expected: "Mister Doe's site is http://johndoe.com, email him at john.doe@email.com for one copy.",
		},
		{
			name:     "Trailing URL gets a period",
			input:    "See https://a.com and email b@c.com. Also check http://d.com",
			expected: "See https://a.com and email b@c.com. Also check http://d.com.",
		},
	})
}

func TestPreprocessor_PreprocessText_ContentRemoval(t *testing.T) {
	t.Parallel()

	runPreprocessorTests(t, []preprocessorTestCase{
		{name: "Bracketed reference", input: "This is a statement [1].", expected: "This is a statement."},
		{name: "Reference range", input: "Shown before [2, 3].", expected: "Shown before."},
		{name: "Parenthetical reference", input: "This is another statement (2).", expected: "This is another statement."},
		{name: "Superscript reference", input: "A third statement¹.", expected: "A third statement."},
		{name: "Et al citation", input: "As shown by Smith et al. this is true.", expected: "As shown by this is true."},
		{
			name:     "Year in parentheses citation",
			input:    "The study (Johnson, 2021) shows results.",
			expected: "The study shows results.",
		},
	})
}

func TestPreprocessor_PreprocessText_WhitespaceAndFormatting(t *testing.T) {
	t.Parallel()

	runPreprocessorTests(t, []preprocessorTestCase{
		{name: "Multiple spaces", input: "Hello   world", expected: "Hello world."},
		{name: "Tabs and newlines", input: "Line 1\nand\tline 2.", expected: "Line one and line two."},
		{name: "Smart quotes", input: "He said, “Hello.”", expected: `He said, "Hello."`},
		{
			name:     "Various dashes",
			input:    "This is a range (1–5) — it's important.",
			expected: "This is a range (one-five) - it's important.",
		},
		{name: "Excessive punctuation", input: "Hello!!! How are you??", expected: "Hello! How are you?"},
		{name: "Ellipsis", input: "Wait… what", expected: "Wait. what."},
		{name: "No final punctuation", input: "This sentence has no end", expected: "This sentence has no end."},
		{name: "Already has final punctuation", input: "Are you sure?", expected: "Are you sure?"},
		{name: "Closing bracket", input: "(see the appendix)", expected: "(see the appendix)."},
	})
}

func TestPreprocessor_PreprocessText_EmphasisDelimitersSurvive(t *testing.T) {
	t.Parallel()

	runPreprocessorTests(t, []preprocessorTestCase{
		{name: "Single span", input: "This is *very important*!", expected: "This is *very important*!"},
		{name: "Terminator inside span", input: "Remember *this.*", expected: "Remember *this.*"},
		{name: "Double delimiters", input: "**Note:** read 2 pages", expected: "**Note:** read two pages."},
	})
}

func TestPreprocessor_PreprocessText_Comprehensive(t *testing.T) {
	t.Parallel()

	preprocessor := text.NewPreprocessor()
	input := "  Dr. Smith's latest paper [1] (see Smith et al., 2023) is available at " +
		"http://example.com. It discusses 10 key findings. Contact him at dr.smith@example.org!!  "
	expected := "Doctor Smith's latest paper is available at http://example.com. " +
		"It discusses ten key findings. Contact him at dr.smith@example.org!"

	assert.Equal(t, expected, preprocessor.PreprocessText(input))
}

func TestSplitParagraphs(t *testing.T) {
	t.Parallel()

	got := text.SplitParagraphs("First line\nstill first\r\n\r\n\n  \nSecond\rthird line\n\n")

	assert.Equal(t, []string{"First line still first", "Second third line"}, got)
	assert.Empty(t, text.SplitParagraphs(" \n\n "))
}

func TestPreprocessor_PreprocessParagraphs(t *testing.T) {
	t.Parallel()

	preprocessor := text.NewPreprocessor()
	got := preprocessor.PreprocessParagraphs([]string{"Chapter 1", "[4]", "Mr. Smith arrives"})

	assert.Equal(t, "Chapter one.\n\nMister Smith arrives.", got)
}
