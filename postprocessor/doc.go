// Package postprocessor holds the rerank control flow shared by the vendor
// rerankers in its subpackages (jinaai, voyageai, nvidia, openvino), plus a
// local keyword reranker.
//
// Every reranker follows the same contract:
//
//   - empty input returns an empty result without calling the vendor
//   - a nil query or empty query string returns rag.ErrMissingQuery
//   - top_n 0 returns an empty result, top_n larger than the result count
//     returns every result, and a negative top_n is rejected by SetTopN
//   - inputs larger than the max batch size are sent in consecutive batches,
//     one call at a time, and merged before truncation
//   - results are sorted by descending score; ties keep vendor order
package postprocessor
