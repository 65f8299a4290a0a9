package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/opina/server/internal/apperr"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldMessages overrides the generic message of a failed rule, keyed by
// "<json field>.<tag>"
var fieldMessages = map[string]string{
	"nom.required":             "Le nom est requis",
	"nom.min":                  "Le nom est requis",
	"nom.max":                  "Le nom ne doit pas dépasser 100 caractères",
	"couleur.hexcolor":         "Couleur invalide (format: #RRGGBB)",
	"couleur.len":              "Couleur invalide (format: #RRGGBB)",
	"email.required":           "Email invalide",
	"email.email":              "Email invalide",
	"numero_telephone.e164":    "Numéro de téléphone invalide",
	"mot_de_passe.required":    "Le mot de passe est requis",
	"mot_de_passe.min":         "Le mot de passe doit contenir au moins 6 caractères",
	"mot_de_passe.max":         "Le mot de passe ne doit pas dépasser 72 caractères",
	"titre.required":           "Le titre est requis",
	"options.required":         "Au moins 2 options sont requises",
	"options.min":              "Au moins 2 options sont requises",
	"date_debut.required":      "Date de début invalide",
	"date_fin.required":        "Date de fin invalide",
	"id_categorie.required":    "La catégorie est requise",
	"id_sondage.required":      "ID de sondage invalide",
	"id_option.required":       "ID d'option invalide",
	"id_vote.required":         "ID de vote invalide",
	"type_validation.required": "Type de validation invalide",
	"type_validation.oneof":    "Type de validation invalide",
	"code.required":            "Code de validation requis",
	"code.len":                 "Le code doit contenir 6 chiffres",
	"code.numeric":             "Le code doit contenir 6 chiffres",
}

// decodeAndValidate reads a JSON body into dst and checks its validate tags
func decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.Validation, "Corps de requête invalide", err)
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate request: %w", err)
	}

	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return apperr.Invalid(fields[0].Message, fields...)
}

func fieldMessage(fe validator.FieldError) string {
	if msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]; ok {
		return msg
	}
	switch fe.Tag() {
	case "required":
		return "Ce champ est requis"
	case "email":
		return "Email invalide"
	case "min":
		return "Valeur trop courte (minimum " + fe.Param() + ")"
	case "max":
		return "Valeur trop longue (maximum " + fe.Param() + ")"
	case "oneof":
		return "Valeur invalide (attendu: " + fe.Param() + ")"
	default:
		return "Valeur invalide"
	}
}
