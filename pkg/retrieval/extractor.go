// Copyright 2025 The Wastepro Authors
//
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

// Package retrieval implements the document ingest pipeline: page
// extraction from stored files, TOC-driven section location, and the
// retriever agent feeding extracted triplets into the knowledge graph.
package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// ExtractPages reads the stored file into per-page texts. PDFs yield one
// entry per page, spreadsheets one per sheet, Word and plain-text files a
// single entry.
func ExtractPages(ctx context.Context, filePath string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf":
		return extractPdfPages(ctx, filePath)
	case ".docx":
		return extractDocxPages(filePath)
	case ".xlsx":
		return extractXlsxPages(ctx, filePath)
	case ".txt", ".md":
		return extractTextPages(filePath)
	default:
		return nil, fmt.Errorf("unsupported document type: %s", filepath.Ext(filePath))
	}
}

func extractPdfPages(ctx context.Context, filePath string) ([]string, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("parse pdf %s: %w", filepath.Base(filePath), err)
	}

	pages := make([]string, 0, reader.NumPage())
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract pdf page %d: %w", pageNum, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func extractDocxPages(filePath string) ([]string, error) {
	doc, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("parse docx %s: %w", filepath.Base(filePath), err)
	}
	defer doc.Close()

	return []string{doc.Editable().GetContent()}, nil
}

func extractXlsxPages(ctx context.Context, filePath string) ([]string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("parse xlsx %s: %w", filepath.Base(filePath), err)
	}
	defer f.Close()

	var pages []string
	for _, sheetName := range f.GetSheetList() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheetName, err)
		}
		var sheetText strings.Builder
		for _, row := range rows {
			for i, cell := range row {
				if i > 0 {
					sheetText.WriteString("\t")
				}
				sheetText.WriteString(cell)
			}
			sheetText.WriteString("\n")
		}
		pages = append(pages, sheetText.String())
	}
	return pages, nil
}

func extractTextPages(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []string{string(data)}, nil
}
