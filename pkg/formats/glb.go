package formats

import (
	"errors"
	"io"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/Faultbox/uvatlas/pkg/atlas"
	"github.com/Faultbox/uvatlas/pkg/atlas/mesh"
)

// ErrNothingToExport is returned when no mesh produced output vertices.
var ErrNothingToExport = errors.New("no unwrapped meshes to export")

// GLTFDocument builds a glTF document with one node per unwrapped mesh.
// TEXCOORD_0 uses the glTF convention of v growing downwards.
func GLTFDocument(decls []mesh.Decl, res *atlas.Result) (*gltf.Document, error) {
	doc := gltf.NewDocument()
	doc.Materials = []*gltf.Material{{
		Name: "atlas",
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			MetallicFactor:  gltf.Float(0),
			RoughnessFactor: gltf.Float(1),
		},
	}}

	for i, mr := range res.Meshes {
		if len(mr.Vertices) == 0 {
			continue
		}
		decl := decls[i]
		positions := make([][3]float32, len(mr.Vertices))
		uvs := make([][2]float32, len(mr.Vertices))
		for j, v := range mr.Vertices {
			p := decl.Positions[v.XRef]
			positions[j] = [3]float32{float32(p[0]), float32(p[1]), float32(p[2])}
			uvs[j] = [2]float32{float32(v.UV[0]), float32(1 - v.UV[1])}
		}
		indices := make([]uint32, len(mr.Indices))
		for j, idx := range mr.Indices {
			indices[j] = uint32(idx)
		}

		prim := &gltf.Primitive{
			Attributes: map[string]uint32{
				gltf.POSITION:   uint32(modeler.WritePosition(doc, positions)),
				gltf.TEXCOORD_0: uint32(modeler.WriteTextureCoord(doc, uvs)),
			},
			Indices:  gltf.Index(uint32(modeler.WriteIndices(doc, indices))),
			Material: gltf.Index(0),
		}
		doc.Meshes = append(doc.Meshes, &gltf.Mesh{Name: mr.Name, Primitives: []*gltf.Primitive{prim}})
		doc.Nodes = append(doc.Nodes, &gltf.Node{Name: mr.Name, Mesh: gltf.Index(uint32(len(doc.Meshes) - 1))})
		doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, uint32(len(doc.Nodes)-1))
	}
	if len(doc.Meshes) == 0 {
		return nil, ErrNothingToExport
	}
	return doc, nil
}

// EncodeGLB writes the unwrapped meshes to w as binary glTF.
func EncodeGLB(w io.Writer, decls []mesh.Decl, res *atlas.Result) error {
	doc, err := GLTFDocument(decls, res)
	if err != nil {
		return err
	}
	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	return enc.Encode(doc)
}

// WriteGLB writes the unwrapped meshes to a .glb file.
func WriteGLB(path string, decls []mesh.Decl, res *atlas.Result) error {
	doc, err := GLTFDocument(decls, res)
	if err != nil {
		return err
	}
	return gltf.SaveBinary(doc, path)
}
