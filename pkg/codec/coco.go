package codec

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cyclopcam/labeler/pkg/annotation"
	"github.com/cyclopcam/labeler/pkg/classes"
	"github.com/cyclopcam/labeler/pkg/geom"
)

// COCO is the COCO "instances" JSON format, where one file holds the labels of
// many images. Categories are matched to registry classes by name.
type COCO struct {
	opt Options
}

type cocoFile struct {
	Info        json.RawMessage  `json:"info,omitempty"`
	Licenses    json.RawMessage  `json:"licenses,omitempty"`
	Images      []cocoImage      `json:"images"`
	Annotations []cocoAnnotation `json:"annotations"`
	Categories  []cocoCategory   `json:"categories"`
}

type cocoImage struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type cocoAnnotation struct {
	ID         int64     `json:"id"`
	ImageID    int64     `json:"image_id"`
	CategoryID int64     `json:"category_id"`
	BBox       []float64 `json:"bbox"`
	Area       float64   `json:"area"`
	// Either a list of polygon rings, or an RLE mask object. We only read rings.
	Segmentation json.RawMessage `json:"segmentation,omitempty"`
	IsCrowd      int             `json:"iscrowd"`
	Score        *float32        `json:"score,omitempty"`
}

type cocoCategory struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory,omitempty"`
}

func (c *COCO) Format() Format { return FormatCOCO }

func parseCOCO(raw []byte) (*cocoFile, error) {
	f := &cocoFile{}
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, jsonSyntaxError(raw, err)
	}
	return f, nil
}

// findImage matches an image by its file name, or by base name, since COCO files
// usually store names relative to an image directory.
func (f *cocoFile) findImage(fileName string) int {
	if fileName == "" {
		if len(f.Images) == 1 {
			return 0
		}
		return -1
	}
	for i, im := range f.Images {
		if im.FileName == fileName {
			return i
		}
	}
	base := filepath.Base(fileName)
	for i, im := range f.Images {
		if filepath.Base(im.FileName) == base {
			return i
		}
	}
	return -1
}

func (c *COCO) Decode(raw []byte, img ImageInfo, reg *classes.Registry) ([]annotation.Record, error) {
	f, err := parseCOCO(raw)
	if err != nil {
		return nil, err
	}
	labels := []annotation.Record{}
	imgIdx := f.findImage(img.FileName)
	if imgIdx == -1 {
		return labels, nil
	}
	imageID := f.Images[imgIdx].ID
	if !img.HasSize() {
		// Fall back to the size recorded in the file
		img.Width, img.Height = f.Images[imgIdx].Width, f.Images[imgIdx].Height
	}

	categories := map[int64]string{}
	for _, cat := range f.Categories {
		categories[cat.ID] = cat.Name
	}

	for i, a := range f.Annotations {
		if a.ImageID != imageID {
			continue
		}
		field := func(name string) string { return fmt.Sprintf("annotations[%d].%v", i, name) }
		catName, ok := categories[a.CategoryID]
		if !ok {
			return nil, formatErrorf(0, field("category_id"), "category %v is not defined", a.CategoryID)
		}
		rec := annotation.Record{}
		rec.ClassID, err = c.opt.classByName(reg, catName)
		if err != nil {
			return nil, classError(err, 0, field("category_id"))
		}

		ring, err := firstRing(a.Segmentation)
		if err != nil {
			return nil, formatErrorf(0, field("segmentation"), "%v", err)
		}
		if ring != nil {
			poly := make(geom.Polygon, len(ring)/2)
			for j := range poly {
				poly[j] = geom.Point{X: ring[j*2], Y: ring[j*2+1]}
			}
			rec.Shape = geom.PolygonShape(poly)
		} else {
			if len(a.BBox) != 4 {
				return nil, formatErrorf(0, field("bbox"), "expected 4 values, but found %v", len(a.BBox))
			}
			rec.Shape = geom.BoxShape(geom.BoxFromXYWH(a.BBox[0], a.BBox[1], a.BBox[2], a.BBox[3]))
		}
		if err := rec.Shape.Validate(); err != nil {
			return nil, formatErrorf(0, field(rec.Shape.Kind.String()), "%v", err)
		}
		if img.HasSize() && !imageBounds(img).Contains(rec.Shape.Bounds()) {
			name := "bbox"
			if rec.Shape.Kind == geom.KindPolygon {
				name = "segmentation"
			}
			return nil, formatErrorf(0, field(name), "shape extends outside the %vx%v image", img.Width, img.Height)
		}

		if a.Score != nil {
			rec.Source = annotation.SourcePredicted
			rec.Confidence = a.Score
			if err := rec.Validate(nil); err != nil {
				return nil, formatErrorf(0, field("score"), "%v", err)
			}
		}
		labels = append(labels, rec)
	}
	return labels, nil
}

// firstRing returns the first polygon ring of a segmentation, or nil if the
// segmentation is empty or is an RLE mask.
func firstRing(seg json.RawMessage) ([]float64, error) {
	if len(seg) == 0 || seg[0] != '[' {
		return nil, nil
	}
	rings := [][]float64{}
	if err := json.Unmarshal(seg, &rings); err != nil {
		return nil, err
	}
	for _, r := range rings {
		if len(r) == 0 {
			continue
		}
		if len(r)%2 != 0 || len(r) < 6 {
			return nil, fmt.Errorf("polygon ring has %v values, expected an even number of at least 6", len(r))
		}
		return r, nil
	}
	return nil, nil
}

func (c *COCO) Encode(labels []annotation.Record, img ImageInfo, reg *classes.Registry) ([]byte, error) {
	return c.Update(nil, labels, img, reg)
}

// Update rewrites the annotations of one image. Other images, their annotations,
// and the ids of existing images and categories are preserved.
func (c *COCO) Update(existing []byte, labels []annotation.Record, img ImageInfo, reg *classes.Registry) ([]byte, error) {
	f, err := parseCOCO(existing)
	if err != nil {
		return nil, err
	}

	imgIdx := f.findImage(img.FileName)
	if imgIdx == -1 {
		f.Images = append(f.Images, cocoImage{ID: nextImageID(f), FileName: img.FileName})
		imgIdx = len(f.Images) - 1
	}
	if img.HasSize() {
		f.Images[imgIdx].Width = img.Width
		f.Images[imgIdx].Height = img.Height
	}
	imageID := f.Images[imgIdx].ID

	kept := make([]cocoAnnotation, 0, len(f.Annotations)+len(labels))
	nextAnnID := int64(1)
	for _, a := range f.Annotations {
		nextAnnID = max(nextAnnID, a.ID+1)
		if a.ImageID != imageID {
			kept = append(kept, a)
		}
	}
	f.Annotations = kept

	for i, r := range labels {
		cls, err := reg.Resolve(r.ClassID)
		if err != nil {
			return nil, fmt.Errorf("label %v: %w", i, err)
		}
		a := cocoAnnotation{
			ID:         nextAnnID,
			ImageID:    imageID,
			CategoryID: f.categoryID(cls.Name),
			Area:       r.Shape.Area(),
			Score:      r.Confidence,
		}
		nextAnnID++
		bounds := r.Shape.Bounds()
		a.BBox = []float64{bounds.X1, bounds.Y1, bounds.Width(), bounds.Height()}
		switch r.Shape.Kind {
		case geom.KindBox:
			a.Segmentation = json.RawMessage("[]")
		case geom.KindPolygon:
			ring := make([]float64, 0, len(r.Shape.Polygon)*2)
			for _, p := range r.Shape.Polygon {
				ring = append(ring, p.X, p.Y)
			}
			a.Segmentation, _ = json.Marshal([][]float64{ring})
		default:
			return nil, fmt.Errorf("label %v: unknown shape kind %v", i, r.Shape.Kind)
		}
		f.Annotations = append(f.Annotations, a)
	}
	if f.Categories == nil {
		f.Categories = []cocoCategory{}
	}
	return json.MarshalIndent(f, "", "\t")
}

func nextImageID(f *cocoFile) int64 {
	id := int64(1)
	for _, im := range f.Images {
		id = max(id, im.ID+1)
	}
	return id
}

// categoryID finds the category with the given name, adding it if necessary
func (f *cocoFile) categoryID(name string) int64 {
	next := int64(1)
	for _, cat := range f.Categories {
		if cat.Name == name {
			return cat.ID
		}
		next = max(next, cat.ID+1)
	}
	f.Categories = append(f.Categories, cocoCategory{ID: next, Name: name})
	return next
}
