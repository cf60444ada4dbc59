package assembler

import (
	"cmp"
	"encoding/base64"

	"github.com/beevik/etree"

	"github.com/apim-gateway/gwbundle/internal/bundle"
	"github.com/apim-gateway/gwbundle/internal/entity"
	"github.com/apim-gateway/gwbundle/internal/gateway"
	"github.com/apim-gateway/gwbundle/internal/logging"
)

// PrivateKey is the import context of one key entry together with the name of
// the file it is written to.
type PrivateKey struct {
	Alias    string
	FileName string
	Context  *etree.Element
}

// privateKeys returns an import context for every key entry of scope whose
// key material is available. The keyFile attribute names the key file, which
// defaults to the alias.
func privateKeys(project ProjectInfo, scope *bundle.Bundle, log *logging.Logger) ([]PrivateKey, error) {
	var result []PrivateKey
	for _, e := range scope.Entities(entity.TypePrivateKey) {
		var attrs entity.PrivateKeyAttributes
		if err := entity.DecodeAttributes(e, &attrs); err != nil {
			return nil, gateway.NewBuildError(err, "%s %q", e.Type, e.Key())
		}
		data, ok := scope.PrivateKeyFile(cmp.Or(attrs.KeyFile, e.Name))
		if !ok {
			log.Debugf("no key material for private key %q", e.Name)
			continue
		}

		ctx := etree.NewElement("l7:PrivateKeyImportContext")
		ctx.CreateAttr("xmlns:l7", gateway.Namespace)
		gateway.CreateText(ctx, "l7:Pkcs12Data", base64.StdEncoding.EncodeToString(data))
		gateway.CreateText(ctx, "l7:Alias", e.Name)
		gateway.CreateText(ctx, "l7:Password", attrs.Password)

		result = append(result, PrivateKey{
			Alias:    e.Name,
			FileName: privateKeyFileName(project, e.Name),
			Context:  ctx,
		})
	}
	return result, nil
}

// privateKeyFileName returns {project}-{alias}{-version{-configName}}.privatekey.
// The config name is only used together with a version.
func privateKeyFileName(project ProjectInfo, alias string) string {
	name := project.Name + "-" + alias
	if project.Version != "" {
		name += "-" + project.Version
		if project.ConfigName != "" {
			name += "-" + project.ConfigName
		}
	}
	return name + PrivateKeySuffix
}
