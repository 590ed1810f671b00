/*
	Package annotation reads polygon annotations drawn on slides and labels
	points by the first region that contains them.

	Annotation files use the ImageScope XML layout:

		<Annotations>
		  <Annotation>
		    <Regions>
		      <Region Text="Tumor">
		        <Attributes><Attribute Value="Carcinoma in situ"/></Attributes>
		        <Vertices><Vertex X="10" Y="20"/>...</Vertices>
		      </Region>
		    </Regions>
		  </Annotation>
		</Annotations>

	A region's label is the Value of its first Attribute if it has one, otherwise
	its Text.  Regions keep file order because labeling depends on it.
*/
package annotation

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"

	"github.com/janelia-flyem/wsipatch/wsi"
)

// Region is an annotated polygon in level-0 pixel coordinates.
type Region struct {
	Vertices wsi.Polygon
	Label    string
}

type xmlVertex struct {
	X float64 `xml:"X,attr"`
	Y float64 `xml:"Y,attr"`
}

type xmlAttribute struct {
	Value string `xml:"Value,attr"`
}

type xmlRegion struct {
	Text       string         `xml:"Text,attr"`
	Attributes []xmlAttribute `xml:"Attributes>Attribute"`
	Vertices   []xmlVertex    `xml:"Vertices>Vertex"`
}

type xmlAnnotations struct {
	Annotations []struct {
		Regions []xmlRegion `xml:"Regions>Region"`
	} `xml:"Annotation"`
}

// Parse reads all regions of an ImageScope annotation document in file order.
func Parse(r io.Reader) ([]Region, error) {
	var doc xmlAnnotations
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("bad annotation XML: %v", err)
	}
	var regions []Region
	for _, a := range doc.Annotations {
		for _, xr := range a.Regions {
			region := Region{Label: xr.Text}
			if len(xr.Attributes) > 0 {
				region.Label = xr.Attributes[0].Value
			}
			region.Vertices = make(wsi.Polygon, len(xr.Vertices))
			for i, v := range xr.Vertices {
				region.Vertices[i] = wsi.Point2d{X: v.X, Y: v.Y}
			}
			regions = append(regions, region)
		}
	}
	return regions, nil
}

// ParseFile parses the annotation file at path.
func ParseFile(path string) ([]Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	regions, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return regions, nil
}
