package harvester

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/joneqian/b2b-jd-crawl/internal/models"
)

// BuildRecord normalises a captured detail payload into the canonical
// product record. payload is the API result object (the one carrying
// viewMasterMapDTO); htmlImages is the DOM fallback used when the rich
// description yielded nothing. A nil or empty payload still yields a valid
// record carrying only the identifier.
func BuildRecord(skuID string, payload map[string]any, htmlImages []string) *models.ProductRecord {
	rec := models.NewProductRecord(skuID)
	if len(payload) == 0 {
		return rec
	}

	title := getMap(payload, "viewTitleDTO")
	rec.Name = getString(title, "title")

	common := getMap(payload, "viewCommonDTO")

	// Brand prefers the dedicated brand section over the common section.
	brand := getMap(payload, "viewBrandDTO")
	rec.Brand = getString(brand, "brandName")
	if rec.Brand == "" {
		rec.Brand = getString(common, "brandName")
	}

	if id := getString(common, "skuId"); id != "" {
		rec.SKUID = id
	}
	rec.ShelfLife = getString(common, "shelfLife")
	rec.ManufacturingDate = getString(common, "manufacturingDate")
	rec.Category = joinCategory(getString(common, "category_name1"), getString(common, "category_name2"))

	// Price sub-objects may be absent at any level; absence means an empty
	// price, never an error.
	price := getMap(payload, "viewPriceDTO")
	priceInfo := getMap(price, "priceInfo")
	rec.JDPrice = getString(getMap(priceInfo, "jprice"), "value")
	rec.RetailPrice = getString(getMap(priceInfo, "mainJdPrice"), "value")
	rec.MainPrice = getString(getMap(price, "mainPositionPrice"), "value")

	selected := getMap(payload, "viewSelectedDTO")
	if v, ok := getNumber(selected, "minimumPurchaseLimit"); ok {
		rec.MinimumPurchase = int(v)
	}

	master := getMap(payload, "viewMasterMapDTO")
	for _, item := range getSlice(master, "wareImage") {
		img, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if url := getString(img, "big"); url != "" && !contains(rec.MainImages, url) {
			rec.MainImages = append(rec.MainImages, url)
		}
	}

	graphic := getMap(payload, "viewGraphicDetailDTO")
	rec.Params = mergeSpecifications(getMap(graphic, "specification"))

	rec.DetailImages = extractDescImages(getString(graphic, "productDesc"))
	if len(rec.DetailImages) == 0 && len(htmlImages) > 0 {
		rec.DetailImages = htmlImages
	}

	return rec
}

// joinCategory concatenates the two hierarchy levels, omitting empty ones.
func joinCategory(level1, level2 string) string {
	switch {
	case level1 != "" && level2 != "":
		return level1 + " > " + level2
	case level1 != "":
		return level1
	default:
		return level2
	}
}

// mergeSpecifications merges the two alternative list representations of the
// specification block. The flat detail list is primary; grouped attributes
// only fill keys the first representation did not claim.
func mergeSpecifications(spec map[string]any) map[string]string {
	params := make(map[string]string)

	for _, item := range getSlice(spec, "specificationDetailList") {
		attr, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := getString(attr, "attributeName")
		value := getString(attr, "attributes")
		if name != "" && value != "" {
			if _, dup := params[name]; !dup {
				params[name] = value
			}
		}
	}

	for _, item := range getSlice(spec, "specificationList") {
		group, ok := item.(map[string]any)
		if !ok {
			continue
		}
		for _, a := range getSlice(group, "AttributeList") {
			attr, ok := a.(map[string]any)
			if !ok {
				continue
			}
			name := getString(attr, "attributeName")
			value := getString(attr, "attributes")
			if name == "" || value == "" {
				continue
			}
			if _, dup := params[name]; !dup {
				params[name] = value
			}
		}
	}

	return params
}

// extractDescImages pulls CDN image URLs out of the rich-description HTML,
// honouring both eager and lazy-load source attributes.
func extractDescImages(productDesc string) []string {
	images := make([]string, 0)
	if productDesc == "" {
		return images
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(productDesc))
	if err != nil {
		return images
	}

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		for _, attr := range []string{"src", "data-lazyload"} {
			src, ok := sel.Attr(attr)
			if !ok || src == "" {
				continue
			}
			if strings.HasPrefix(src, "//") {
				src = "https:" + src
			}
			if strings.Contains(src, "360buyimg") && !contains(images, src) {
				images = append(images, src)
			}
		}
	})

	return images
}

// normalizeGalleryImage rewrites an <img> source scraped from the detail
// container: protocol-relative URLs become absolute HTTPS, the CDN's resize
// suffix is stripped and the n4 path size token is upgraded to the largest
// variant. Returns "" for URLs off the product CDN.
func normalizeGalleryImage(src string) string {
	if src == "" {
		return ""
	}
	if strings.HasPrefix(src, "//") {
		src = "https:" + src
	}
	if !strings.Contains(src, "360buyimg") {
		return ""
	}
	if i := strings.Index(src, "!"); i >= 0 {
		src = src[:i]
	}
	return strings.Replace(src, "/n4/", "/n1/", 1)
}

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func getSlice(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	v, _ := m[key].([]any)
	return v
}

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func getNumber(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[key].(float64)
	return v, ok
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
