package ncbi

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// Базы данных Entrez.
const (
	DBPubMed = "pubmed"
	DBPMC    = "pmc"
)

// Document — найденная публикация.
type Document struct {
	ID      string
	DB      string // DBPubMed или DBPMC
	Title   string
	Source  string // URL статьи
	Content string // Abstract (PubMed) или полный текст (PMC)
}

// SourceLabel возвращает "PubMed" или "PMC".
func (d Document) SourceLabel() string {
	if d.DB == DBPMC {
		return "PMC"
	}
	return "PubMed"
}

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// ESearch ищет идентификаторы публикаций в базе db.
func (c *Client) ESearch(ctx context.Context, db, term string, retmax int) ([]string, error) {
	if retmax <= 0 {
		retmax = 3
	}
	params := url.Values{}
	params.Set("db", db)
	params.Set("term", term)
	params.Set("retmax", strconv.Itoa(retmax))
	params.Set("retmode", "json")

	body, err := c.get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("esearch %s: %w", db, err)
	}

	var resp esearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("esearch %s: unmarshal error: %w", db, err)
	}
	return resp.Result.IDList, nil
}

type pubmedArticleSet struct {
	Articles []struct {
		Citation struct {
			PMID    string `xml:"PMID"`
			Article struct {
				Title    innerText `xml:"ArticleTitle"`
				Abstract struct {
					Texts []innerText `xml:"AbstractText"`
				} `xml:"Abstract"`
			} `xml:"Article"`
		} `xml:"MedlineCitation"`
	} `xml:"PubmedArticle"`
}

// innerText собирает весь текст элемента, включая вложенную разметку (<i>, <sup>).
type innerText string

func (t *innerText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var sb strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch v := tok.(type) {
		case xml.CharData:
			sb.Write(v)
		case xml.EndElement:
			if v.Name == start.Name {
				*t = innerText(strings.TrimSpace(sb.String()))
				return nil
			}
		}
	}
}

// FetchPubMed загружает заголовки и abstracts статей PubMed.
//
// Статьи без abstract пропускаются.
func (c *Client) FetchPubMed(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("db", DBPubMed)
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "xml")

	body, err := c.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("efetch pubmed: %w", err)
	}

	var set pubmedArticleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("efetch pubmed: parse xml: %w", err)
	}

	docs := make([]Document, 0, len(set.Articles))
	for _, a := range set.Articles {
		parts := make([]string, 0, len(a.Citation.Article.Abstract.Texts))
		for _, p := range a.Citation.Article.Abstract.Texts {
			if p != "" {
				parts = append(parts, string(p))
			}
		}
		if len(parts) == 0 {
			continue
		}
		pmid := strings.TrimSpace(a.Citation.PMID)
		docs = append(docs, Document{
			ID:      pmid,
			DB:      DBPubMed,
			Title:   string(a.Citation.Article.Title),
			Source:  "https://pubmed.ncbi.nlm.nih.gov/" + pmid + "/",
			Content: strings.Join(parts, "\n"),
		})
	}
	return docs, nil
}

// FetchPMCFullText загружает статью PMC и возвращает заголовок и текст абзацев из <body>.
func (c *Client) FetchPMCFullText(ctx context.Context, id string) (Document, error) {
	params := url.Values{}
	params.Set("db", DBPMC)
	params.Set("id", id)
	params.Set("rettype", "xml")

	body, err := c.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return Document{}, fmt.Errorf("efetch pmc %s: %w", id, err)
	}

	title, text, err := parsePMCArticle(body)
	if err != nil {
		return Document{}, fmt.Errorf("efetch pmc %s: parse xml: %w", id, err)
	}

	return Document{
		ID:      id,
		DB:      DBPMC,
		Title:   title,
		Source:  "https://www.ncbi.nlm.nih.gov/pmc/articles/PMC" + id + "/",
		Content: text,
	}, nil
}

// parsePMCArticle проходит по токенам JATS XML: первый <article-title> и все <p> внутри <body>.
func parsePMCArticle(data []byte) (string, string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false

	var (
		title      string
		paragraphs []string
		bodyDepth  int
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", "", err
		}

		switch v := tok.(type) {
		case xml.StartElement:
			switch {
			case v.Name.Local == "body":
				bodyDepth++
			case v.Name.Local == "article-title" && title == "":
				var t innerText
				if err := t.UnmarshalXML(dec, v); err != nil {
					return "", "", err
				}
				title = string(t)
			case v.Name.Local == "p" && bodyDepth > 0:
				var p innerText
				if err := p.UnmarshalXML(dec, v); err != nil {
					return "", "", err
				}
				if p != "" {
					paragraphs = append(paragraphs, string(p))
				}
			}
		case xml.EndElement:
			if v.Name.Local == "body" && bodyDepth > 0 {
				bodyDepth--
			}
		}
	}

	return title, strings.Join(paragraphs, " "), nil
}

// Search ищет одновременно в PubMed и PMC.
//
// Ошибка одного источника логируется и не отменяет другой; ошибка возвращается
// только если оба источника упали.
func (c *Client) Search(ctx context.Context, query string, maxPerSource int) ([]Document, error) {
	var (
		wg                  sync.WaitGroup
		pubmedDocs, pmcDocs []Document
		pubmedErr, pmcErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		ids, err := c.ESearch(ctx, DBPubMed, query, maxPerSource)
		if err != nil {
			pubmedErr = err
			return
		}
		pubmedDocs, pubmedErr = c.FetchPubMed(ctx, ids)
	}()
	go func() {
		defer wg.Done()
		pmcDocs, pmcErr = c.searchPMC(ctx, query, maxPerSource)
	}()
	wg.Wait()

	if pubmedErr != nil {
		utils.Warn("PubMed search failed", "query", query, "error", pubmedErr, "type", c.ClassifyError(pubmedErr).String())
	}
	if pmcErr != nil {
		utils.Warn("PMC search failed", "query", query, "error", pmcErr, "type", c.ClassifyError(pmcErr).String())
	}
	if pubmedErr != nil && pmcErr != nil {
		return nil, fmt.Errorf("all sources failed: %w", errors.Join(pubmedErr, pmcErr))
	}

	return append(pubmedDocs, pmcDocs...), nil
}

// searchPMC ищет id в PMC и параллельно загружает полные тексты.
// Статьи, которые не удалось загрузить или у которых нет текста, пропускаются.
func (c *Client) searchPMC(ctx context.Context, query string, maxResults int) ([]Document, error) {
	ids, err := c.ESearch(ctx, DBPMC, query, maxResults)
	if err != nil {
		return nil, err
	}

	results := make([]*Document, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			doc, err := c.FetchPMCFullText(ctx, id)
			if err != nil {
				utils.Debug("PMC full text unavailable", "pmc_id", id, "error", err)
				return
			}
			if doc.Content != "" {
				results[i] = &doc
			}
		}(i, id)
	}
	wg.Wait()

	docs := make([]Document, 0, len(ids))
	for _, d := range results {
		if d != nil {
			docs = append(docs, *d)
		}
	}
	return docs, nil
}
