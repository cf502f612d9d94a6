package llm_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/llm"
)

var _ = Describe("DecodeExtraction", func() {
	fallback := knowledge.NewLocation("pkg/pay/charge.go", 30, 60)

	It("decodes a full answer", func() {
		text := `{
			"detections": [{
				"category": "validation", "name": "amount check", "signature": "validate(amount)",
				"file": "pkg/pay/charge.go", "start_line": 30, "end_line": 60, "confidence": 0.8
			}],
			"intent": "make rounding banker-safe",
			"assumptions": [{
				"description": "amounts are integer cents", "kind": "invariant",
				"file": "pkg/pay/charge.go", "start_line": 30, "end_line": 60
			}],
			"tradeoff": {"decision": "integer cents", "rationale": "no float drift", "rejected": ["decimal strings"]}
		}`

		got, err := llm.DecodeExtraction(text, fallback)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Intent).To(Equal("make rounding banker-safe"))
		Expect(got.Detections).To(HaveLen(1))
		Expect(got.Detections[0].Category).To(Equal(knowledge.CategoryValidation))
		Expect(got.Assumptions).To(HaveLen(1))
		Expect(got.Assumptions[0].Kind).To(Equal(knowledge.KindInvariant))
		Expect(got.Tradeoff.Alternatives).To(Equal([]string{"decimal strings"}))
	})

	It("tolerates code fences with a language tag", func() {
		text := "```json\n{\"intent\": \"refactor\"}\n```"
		got, err := llm.DecodeExtraction(text, fallback)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Intent).To(Equal("refactor"))
	})

	It("treats an empty answer as an empty extraction", func() {
		got, err := llm.DecodeExtraction("   ", fallback)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Empty()).To(BeTrue())
	})

	It("rejects non-JSON answers", func() {
		_, err := llm.DecodeExtraction("I think this change is about rounding.", fallback)
		Expect(err).To(HaveOccurred())
	})

	It("drops detections with unusable categories", func() {
		text := `{"detections": [
			{"category": "vibes", "signature": "s", "file": "a.go", "start_line": 1, "end_line": 2, "confidence": 0.8},
			{"category": "caching", "signature": "s2", "file": "a.go", "start_line": 1, "end_line": 2, "confidence": 0.8}
		]}`
		got, err := llm.DecodeExtraction(text, fallback)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Detections).To(HaveLen(1))
		Expect(got.Detections[0].Category).To(Equal(knowledge.CategoryCaching))
	})

	It("falls back to the change location when the model omits one", func() {
		text := `{"detections": [{"category": "caching", "signature": "s", "confidence": 0.8}]}`
		got, err := llm.DecodeExtraction(text, fallback)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Detections[0].Location).To(Equal(fallback))
	})

	It("clamps out-of-range confidence to a neutral default", func() {
		text := `{"detections": [
			{"category": "caching", "signature": "a", "file": "a.go", "start_line": 1, "end_line": 2, "confidence": 7},
			{"category": "caching", "signature": "b", "file": "a.go", "start_line": 1, "end_line": 2, "confidence": -1}
		]}`
		got, err := llm.DecodeExtraction(text, fallback)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Detections[0].Confidence).To(Equal(0.5))
		Expect(got.Detections[1].Confidence).To(Equal(0.5))
	})

	It("drops assumptions without a description", func() {
		text := `{"assumptions": [
			{"description": "  ", "kind": "invariant", "file": "a.go", "start_line": 1, "end_line": 2},
			{"description": "real one", "kind": "unheard-of", "file": "a.go", "start_line": 1, "end_line": 2}
		]}`
		got, err := llm.DecodeExtraction(text, fallback)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Assumptions).To(HaveLen(1))
		Expect(got.Assumptions[0].Description).To(Equal("real one"))
		Expect(got.Assumptions[0].Kind).To(Equal(knowledge.KindInvariant), "unknown kinds parse to invariant")
	})

	It("ignores tradeoffs without a decision", func() {
		text := `{"tradeoff": {"rationale": "just because"}}`
		got, err := llm.DecodeExtraction(text, fallback)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Tradeoff).To(BeNil())
	})
})
