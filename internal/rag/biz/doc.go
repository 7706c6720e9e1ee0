// Package biz implements the RAG query pipeline: admission, result
// caching, retrieval, generation, streaming and token accounting, plus
// document ingestion.
package biz
